package supervisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quatrix/fleet/internal/rcon"
	"github.com/quatrix/fleet/internal/slogger"
	"github.com/quatrix/fleet/internal/store"
)

// BanRequest describes the subject of a ban. UserID targets the live session
// slot; SteamID makes the ban stick after the player disconnects. Duration
// of zero means permanent.
type BanRequest struct {
	UserID          int
	PlayerName      string
	SteamID         string
	IPAddress       string
	Reason          string
	DurationMinutes int
	BannedBy        string
}

// Players returns the connected-player table of a running instance.
func (m *Manager) Players(ctx context.Context, id string) ([]rcon.Player, error) {
	inst, err := m.store.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.rcon.Players(ctx, id, m.addr(inst))
}

// SendCommand executes a raw console command on a running instance and
// returns its output.
func (m *Manager) SendCommand(ctx context.Context, id, command string) (string, error) {
	inst, err := m.store.GetInstance(ctx, id)
	if err != nil {
		return "", err
	}
	return m.rcon.Exec(ctx, id, m.addr(inst), command)
}

// Kick disconnects a player by session user id.
func (m *Manager) Kick(ctx context.Context, id string, userID int, reason string) error {
	inst, err := m.store.GetInstance(ctx, id)
	if err != nil {
		return err
	}

	cmd := fmt.Sprintf("kickid %d", userID)
	if reason != "" {
		cmd = fmt.Sprintf("kickid %d %s", userID, quoteArg(reason))
	}
	if _, err := m.rcon.Exec(ctx, id, m.addr(inst), cmd); err != nil {
		return fmt.Errorf("kick player %d: %w", userID, err)
	}
	return nil
}

// Ban enforces a ban through an ordered list of best-effort layers: the
// admin plugin's session ban, the persistent SteamID ban, a plain engine
// kick, and an admin-cache reload. The layers are independent enforcement
// mechanisms, not a transaction; a later layer failing does not roll back
// earlier ones. The audit record is appended regardless.
func (m *Manager) Ban(ctx context.Context, id string, req BanRequest) (*store.BanRecord, error) {
	inst, err := m.store.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	addr := m.addr(inst)
	logger := slogger.L(ctx)

	steps := m.banSteps(req)
	for _, step := range steps {
		if _, err := m.rcon.Exec(ctx, id, addr, step); err != nil {
			logger.Warn("ban step failed, continuing", "instance", id, "command", step, "error", err)
		}
	}

	ban := &store.BanRecord{
		ID:              uuid.NewString(),
		ServerID:        id,
		PlayerName:      req.PlayerName,
		SteamID:         req.SteamID,
		IPAddress:       req.IPAddress,
		Reason:          req.Reason,
		DurationMinutes: req.DurationMinutes,
		BannedBy:        req.BannedBy,
	}
	if req.DurationMinutes > 0 {
		expires := time.Now().UTC().Add(time.Duration(req.DurationMinutes) * time.Minute)
		ban.ExpiresAt = &expires
	}

	if err := m.store.AddBan(ctx, ban); err != nil {
		return nil, fmt.Errorf("record ban: %w", err)
	}
	return ban, nil
}

func (m *Manager) banSteps(req BanRequest) []string {
	reason := req.Reason
	if reason == "" {
		reason = "banned by admin"
	}

	var steps []string
	if req.UserID > 0 {
		steps = append(steps, fmt.Sprintf("css_ban #%d %d %s", req.UserID, req.DurationMinutes, quoteArg(reason)))
	}
	if req.SteamID != "" {
		steps = append(steps, fmt.Sprintf("css_addban %s %d %s", req.SteamID, req.DurationMinutes, quoteArg(reason)))
	}
	if req.UserID > 0 {
		steps = append(steps, fmt.Sprintf("kickid %d", req.UserID))
	}
	return append(steps, "css_reload_admins")
}

// ChangeMap switches a running instance to a stock map or a workshop item.
// A numeric target is treated as a workshop content id and registered in the
// workshop-map cache as a side effect; its real map file name is often
// unknown until the reconciliation poller observes it.
func (m *Manager) ChangeMap(ctx context.Context, id, target string) error {
	inst, err := m.store.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	addr := m.addr(inst)

	if isWorkshopID(target) {
		if _, err := m.rcon.Exec(ctx, id, addr, "host_workshop_map "+target); err != nil {
			return fmt.Errorf("change to workshop map %s: %w", target, err)
		}
		if resolved, err := m.workshop.Resolve(ctx, target); err != nil {
			slogger.L(ctx).Warn("failed to register workshop map", "workshopId", target, "error", err)
		} else if resolved.MapFile != "" {
			return m.store.SetInstanceMap(ctx, id, resolved.MapFile)
		}
		return nil
	}

	if _, err := m.rcon.Exec(ctx, id, addr, "changelevel "+target); err != nil {
		return fmt.Errorf("change to map %s: %w", target, err)
	}
	return m.store.SetInstanceMap(ctx, id, target)
}

func isWorkshopID(target string) bool {
	if target == "" {
		return false
	}
	for _, r := range target {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func quoteArg(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, "'") + `"`
}
