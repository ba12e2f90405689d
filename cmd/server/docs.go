// Package main Todoflow Server API
//
//	@title						Todoflow Server API
//	@version					1.0
//	@description				Todo, preset and team state with a local cache and an optional remote mirror.
//
//	@contact.name				Todoflow Maintainers
//
//	@license.name				MIT
//
//	@host						localhost:8080
//	@BasePath					/api/v1
//
//	@tag.name					Todos
//	@tag.description			Todo list, preferences and calendar
//
//	@tag.name					Presets
//	@tag.description			Reusable todo titles
//
//	@tag.name					Session
//	@tag.description			Sign-in state
//
//	@tag.name					Teams
//	@tag.description			Teams and members
//
//	@tag.name					Invitations
//	@tag.description			Team invitations and the join flow
//
//	@tag.name					Stream
//	@tag.description			Live store snapshots over websocket
package main
