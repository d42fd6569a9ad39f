// Package ident generates the prefixed identifiers used across the service.
package ident

import (
	nanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultLength = 21

const (
	PrefixSubscriber = "sub"
	PrefixPhoto      = "photo"
	PrefixMessage    = "msg"
	PrefixTurn       = "turn"
	PrefixBridge     = "brg"
)

// New returns a new id of the form "<prefix>_<nanoid>".
func New(prefix string) string {
	id, err := nanoid.New(DefaultLength)
	if err != nil {
		panic("ident: nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewSubscriber() string { return New(PrefixSubscriber) }
func NewPhoto() string      { return New(PrefixPhoto) }
func NewMessage() string    { return New(PrefixMessage) }
func NewTurn() string       { return New(PrefixTurn) }
func NewBridge() string     { return New(PrefixBridge) }
