package zone

// UserPatch is a partial update to a user record. Nil fields are left
// untouched; present fields replace the previous value wholesale. The same
// merge runs on the server (authoritative) and in the mirror client
// (prediction), so both sides classify the same changes identically.
type UserPatch struct {
	Name     *string   `json:"name,omitempty"`
	Position *Coord    `json:"position,omitempty"`
	Avatar   *string   `json:"avatar,omitempty"`
	Emotes   *[]string `json:"emotes,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.Name == nil && p.Position == nil && p.Avatar == nil && p.Emotes == nil && p.Tags == nil
}

// PatchResult describes the observable consequences of applying a patch.
// Joined fires only on a user's first-ever name assignment; a later name
// change is Renamed. Re-applying an identical patch sets neither.
type PatchResult struct {
	Joined       bool
	Renamed      bool
	PreviousName string

	Moved         bool
	EmotesChanged bool
	AvatarChanged bool
	TagsChanged   bool
}

// Apply merges patch into u and reports what changed.
func Apply(u *User, patch UserPatch) PatchResult {
	var res PatchResult

	if patch.Name != nil && *patch.Name != u.Name {
		res.PreviousName = u.Name
		if u.Name == "" {
			res.Joined = true
		} else {
			res.Renamed = true
		}
		u.Name = *patch.Name
	}
	if patch.Position != nil {
		pos := *patch.Position
		if u.Position == nil || *u.Position != pos {
			res.Moved = true
		}
		u.Position = &pos
	}
	if patch.Avatar != nil && *patch.Avatar != u.Avatar {
		u.Avatar = *patch.Avatar
		res.AvatarChanged = true
	}
	if patch.Emotes != nil && !sameStrings(u.Emotes, *patch.Emotes) {
		u.Emotes = append([]string(nil), (*patch.Emotes)...)
		res.EmotesChanged = true
	}
	if patch.Tags != nil && !sameStrings(u.Tags, *patch.Tags) {
		u.Tags = append([]string(nil), (*patch.Tags)...)
		res.TagsChanged = true
	}
	return res
}

// Changed reports whether the patch had any observable effect.
func (r PatchResult) Changed() bool {
	return r.Joined || r.Renamed || r.Moved || r.EmotesChanged || r.AvatarChanged || r.TagsChanged
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
