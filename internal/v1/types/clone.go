package types

// Deep-copy helpers. The store writer hands out clones, never mutable
// aliases, so broadcast snapshots can be marshaled outside the writer lock.

// Clone returns a deep copy of the participant.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	cp := *p
	if p.BlockedPlayerIds != nil {
		cp.BlockedPlayerIds = make(map[string]bool, len(p.BlockedPlayerIds))
		for k, v := range p.BlockedPlayerIds {
			cp.BlockedPlayerIds[k] = v
		}
	}
	return &cp
}

// Clone returns a deep copy of the roll snapshot.
func (r *RollSnapshot) Clone() *RollSnapshot {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Dice = append([]Die(nil), r.Dice...)
	return &cp
}

// Clone returns a deep copy of the score summary.
func (s *ScoreSummary) Clone() *ScoreSummary {
	if s == nil {
		return nil
	}
	cp := *s
	cp.SelectedDiceIds = append([]string(nil), s.SelectedDiceIds...)
	return &cp
}

// Clone returns a deep copy of the turn state.
func (t *TurnState) Clone() *TurnState {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Order = append([]PlayerIdType(nil), t.Order...)
	cp.LastRollSnapshot = t.LastRollSnapshot.Clone()
	cp.LastScoreSummary = t.LastScoreSummary.Clone()
	return &cp
}

// Clone returns a deep copy of the conduct state.
func (c *ChatConductState) Clone() *ChatConductState {
	if c == nil {
		return nil
	}
	cp := NewChatConductState()
	for id, ps := range c.Players {
		entry := *ps
		entry.StrikeEvents = append([]int64(nil), ps.StrikeEvents...)
		cp.Players[id] = &entry
	}
	return cp
}

// Clone returns a deep copy of the session and everything it owns.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Participants = make(map[PlayerIdType]*Participant, len(s.Participants))
	for id, p := range s.Participants {
		cp.Participants[id] = p.Clone()
	}
	cp.TurnState = s.TurnState.Clone()
	cp.ChatConduct = s.ChatConduct.Clone()
	cp.RoomBans = make(map[PlayerIdType]*BanRecord, len(s.RoomBans))
	for id, b := range s.RoomBans {
		ban := *b
		cp.RoomBans[id] = &ban
	}
	return &cp
}

// Clone returns a deep copy of the whole aggregate.
func (d *StoreData) Clone() *StoreData {
	if d == nil {
		return nil
	}
	cp := NewStoreData()
	for id, p := range d.Players {
		player := *p
		cp.Players[id] = &player
	}
	for id, s := range d.Sessions {
		cp.Sessions[id] = s.Clone()
	}
	for hash, t := range d.AuthTokens {
		token := *t
		cp.AuthTokens[hash] = &token
	}
	if d.GameLogs != nil {
		cp.GameLogs = make([]*GameLog, len(d.GameLogs))
		for i, l := range d.GameLogs {
			entry := *l
			cp.GameLogs[i] = &entry
		}
	}
	return cp
}
