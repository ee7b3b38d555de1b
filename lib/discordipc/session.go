// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discordipc

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Intents are the gateway intents a session needs for every bridge
// route to have data.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

// Open connects a bot session with the given token and Intents. The
// caller closes the returned session.
func Open(token string) (*discordgo.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("discord token is empty")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.MakeIntent(Intents)
	session.StateEnabled = true

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("opening discord gateway: %w", err)
	}
	return session, nil
}
