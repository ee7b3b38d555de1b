// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discordipc

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/bureau-foundation/botipc/lib/ipc"
)

// Bridge serves a discordgo state cache.
type Bridge struct {
	state *discordgo.State
}

// New creates a bridge over state.
func New(state *discordgo.State) *Bridge {
	return &Bridge{state: state}
}

// Routes returns the bridge's routes: /guilds, /guild, /channels and
// /member.
func (b *Bridge) Routes() []*ipc.Route {
	return []*ipc.Route{
		ipc.MustRoute("/guilds", b.handleGuilds),
		ipc.MustRoute("/guild", b.handleGuild),
		ipc.MustRoute("/channels", b.handleChannels),
		ipc.MustRoute("/member", b.handleMember),
	}
}

// Register adds the bridge's routes to server.
func (b *Bridge) Register(server *ipc.Server) error {
	for _, route := range b.Routes() {
		if err := server.AddRoute(route); err != nil {
			return err
		}
	}
	return nil
}

// GuildSummary is one entry of the /guilds response.
type GuildSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
}

// GuildInfo is the /guild response.
type GuildInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	OwnerID      string `json:"owner_id"`
	Icon         string `json:"icon,omitempty"`
	MemberCount  int    `json:"member_count"`
	ChannelCount int    `json:"channel_count"`
	RoleCount    int    `json:"role_count"`
}

// ChannelInfo is one entry of the /channels response.
type ChannelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     int    `json:"type"`
	Position int    `json:"position"`
	ParentID string `json:"parent_id,omitempty"`
}

// MemberInfo is the /member response.
type MemberInfo struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	GlobalName string    `json:"global_name,omitempty"`
	Nick       string    `json:"nick,omitempty"`
	Bot        bool      `json:"bot"`
	Roles      []string  `json:"roles"`
	JoinedAt   time.Time `json:"joined_at"`
}

func (b *Bridge) handleGuilds(context.Context, *ipc.Request) (any, error) {
	b.state.RLock()
	defer b.state.RUnlock()

	guilds := make([]GuildSummary, 0, len(b.state.Guilds))
	for _, guild := range b.state.Guilds {
		guilds = append(guilds, GuildSummary{
			ID:          guild.ID,
			Name:        guild.Name,
			MemberCount: guild.MemberCount,
		})
	}
	sort.Slice(guilds, func(i, j int) bool { return guilds[i].Name < guilds[j].Name })
	return guilds, nil
}

func (b *Bridge) handleGuild(_ context.Context, request *ipc.Request) (any, error) {
	guild, err := b.guild(request)
	if err != nil {
		return nil, err
	}

	b.state.RLock()
	defer b.state.RUnlock()
	return GuildInfo{
		ID:           guild.ID,
		Name:         guild.Name,
		OwnerID:      guild.OwnerID,
		Icon:         guild.Icon,
		MemberCount:  guild.MemberCount,
		ChannelCount: len(guild.Channels),
		RoleCount:    len(guild.Roles),
	}, nil
}

func (b *Bridge) handleChannels(_ context.Context, request *ipc.Request) (any, error) {
	guild, err := b.guild(request)
	if err != nil {
		return nil, err
	}

	b.state.RLock()
	defer b.state.RUnlock()
	channels := make([]ChannelInfo, 0, len(guild.Channels))
	for _, channel := range guild.Channels {
		channels = append(channels, ChannelInfo{
			ID:       channel.ID,
			Name:     channel.Name,
			Type:     int(channel.Type),
			Position: channel.Position,
			ParentID: channel.ParentID,
		})
	}
	sort.SliceStable(channels, func(i, j int) bool {
		if channels[i].Position != channels[j].Position {
			return channels[i].Position < channels[j].Position
		}
		return channels[i].ID < channels[j].ID
	})
	return channels, nil
}

func (b *Bridge) handleMember(_ context.Context, request *ipc.Request) (any, error) {
	guildID, err := snowflake(request, "guild_id")
	if err != nil {
		return nil, err
	}
	userID, err := snowflake(request, "user_id")
	if err != nil {
		return nil, err
	}

	member, err := b.state.Member(guildID, userID)
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return nil, ipc.NotFound("member %s not found in guild %s", userID, guildID)
	}
	if err != nil {
		return nil, err
	}

	b.state.RLock()
	defer b.state.RUnlock()
	info := MemberInfo{
		Nick:     member.Nick,
		Roles:    append([]string{}, member.Roles...),
		JoinedAt: member.JoinedAt,
	}
	if member.User != nil {
		info.UserID = member.User.ID
		info.Username = member.User.Username
		info.GlobalName = member.User.GlobalName
		info.Bot = member.User.Bot
	}
	return info, nil
}

// guild resolves the request's guild_id.
func (b *Bridge) guild(request *ipc.Request) (*discordgo.Guild, error) {
	guildID, err := snowflake(request, "guild_id")
	if err != nil {
		return nil, err
	}
	guild, err := b.state.Guild(guildID)
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return nil, ipc.NotFound("guild %s not found", guildID)
	}
	if err != nil {
		return nil, err
	}
	return guild, nil
}

// snowflake reads a Discord id from the payload. Ids are strings on
// the wire; binary codecs may also carry them as integers. JSON
// numbers are rejected because they cannot hold every snowflake.
func snowflake(request *ipc.Request, key string) (string, error) {
	value, ok := request.Get(key)
	if !ok || value == nil {
		return "", ipc.BadRequest("%s is required", key)
	}
	switch id := value.(type) {
	case string:
		if id == "" {
			return "", ipc.BadRequest("%s is required", key)
		}
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			return "", ipc.BadRequest("%s %q is not a snowflake", key, id)
		}
		return id, nil
	case uint64:
		return strconv.FormatUint(id, 10), nil
	case int64:
		if id < 0 {
			return "", ipc.BadRequest("%s must not be negative", key)
		}
		return strconv.FormatInt(id, 10), nil
	default:
		return "", ipc.BadRequest("%s must be a string", key)
	}
}
