// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package session defines the unambiguous (userId, channelId) compound key
// used to look up conversation state. Naive "userId+channelId" concatenation
// is ambiguous when either id can itself contain the join character; this
// was flagged as a bug in the source material this module descends from, so
// Key is a tagged struct with a single encode/parse pair instead.
package session

import (
	"fmt"
	"strconv"
	"strings"
)

// Key identifies one (user, channel) conversation.
type Key struct {
	UserID    string
	ChannelID string
}

// Encode renders the key as "<len(userId)>:<userId><len(channelId)>:<channelId>",
// a netstring-style length prefix on each field. A naive "user:X|channel:Y"
// join is ambiguous the moment either field can itself contain "|channel:"
// (e.g. UserID="x|channel:y", ChannelID="z" collides with UserID="x",
// ChannelID="y|channel:z"); prefixing each field with its byte length instead
// of searching for a separator makes the encoding injective regardless of
// what bytes the fields contain.
func (k Key) Encode() string {
	return strconv.Itoa(len(k.UserID)) + ":" + k.UserID + strconv.Itoa(len(k.ChannelID)) + ":" + k.ChannelID
}

// New builds a Key from its parts.
func New(userID, channelID string) Key {
	return Key{UserID: userID, ChannelID: channelID}
}

// Parse reverses Encode, rejecting any string not matching the exact shape.
func Parse(s string) (Key, error) {
	userID, rest, err := readField(s)
	if err != nil {
		return Key{}, fmt.Errorf("session: malformed key %q: user field: %w", s, err)
	}
	channelID, rest, err := readField(rest)
	if err != nil {
		return Key{}, fmt.Errorf("session: malformed key %q: channel field: %w", s, err)
	}
	if rest != "" {
		return Key{}, fmt.Errorf("session: malformed key %q: trailing data after channel field", s)
	}
	return Key{UserID: userID, ChannelID: channelID}, nil
}

// readField consumes one "<length>:<value>" netstring field from the front
// of s and returns the value plus whatever remains.
func readField(s string) (value, remainder string, err error) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return "", "", fmt.Errorf("missing length prefix")
	}
	n, err := strconv.Atoi(s[:idx])
	if err != nil || n < 0 {
		return "", "", fmt.Errorf("invalid length prefix %q", s[:idx])
	}
	body := s[idx+1:]
	if len(body) < n {
		return "", "", fmt.Errorf("field shorter than declared length %d", n)
	}
	return body[:n], body[n:], nil
}

// String implements fmt.Stringer so Key can be used directly as a map key's
// log value or dropped into format strings.
func (k Key) String() string {
	return k.Encode()
}
