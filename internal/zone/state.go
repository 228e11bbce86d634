package zone

// UserID is a process-unique identity for a present user. It is stable for
// the lifetime of the user's session, including across reconnects.
type UserID string

// Coord is an integer voxel coordinate.
type Coord [3]int

// User is the shared presence record for one participant. A user with an
// empty Name has connected but not joined; presence listings exclude it.
type User struct {
	UserID   UserID   `json:"userId"`
	Name     string   `json:"name,omitempty"`
	Position *Coord   `json:"position,omitempty"`
	Avatar   string   `json:"avatar,omitempty"`
	Emotes   []string `json:"emotes,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

func (u *User) HasTag(tag string) bool {
	for _, t := range u.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (u *User) AddTag(tag string) bool {
	if u.HasTag(tag) {
		return false
	}
	u.Tags = append(u.Tags, tag)
	return true
}

func (u *User) RemoveTag(tag string) bool {
	for i, t := range u.Tags {
		if t == tag {
			u.Tags = append(u.Tags[:i], u.Tags[i+1:]...)
			return true
		}
	}
	return false
}

// Echo is a position-anchored text marker. Name and Tags snapshot the author
// at posting time; removal rights key off that snapshot, not the live user.
type Echo struct {
	Position Coord    `json:"position"`
	Text     string   `json:"text"`
	Name     string   `json:"name,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

func (e Echo) AuthoredByAdmin() bool {
	for _, t := range e.Tags {
		if t == "admin" {
			return true
		}
	}
	return false
}

// Media describes one playable item. Sources are locators ordered by
// preference; the last entry is the canonical identity of the media and is
// what duplicate detection and skip votes key on.
type Media struct {
	Title    string   `json:"title"`
	Duration int64    `json:"duration"` // milliseconds
	Sources  []string `json:"sources"`
}

// Source returns the canonical source identity.
func (m Media) Source() string {
	if len(m.Sources) == 0 {
		return ""
	}
	return m.Sources[len(m.Sources)-1]
}

// MediaEquals reports source-identity equality, not title equality.
func MediaEquals(a, b Media) bool {
	return a.Source() != "" && a.Source() == b.Source()
}

// QueueInfo records the origin of a queue item for attribution and quotas.
// Origin is the submitter's opaque network identity; empty for system items.
type QueueInfo struct {
	UserID UserID `json:"userId,omitempty"`
	Origin string `json:"origin,omitempty"`
	Banger bool   `json:"banger,omitempty"`
}

// QueueItem is an admitted media item. Items are never mutated in place.
type QueueItem struct {
	ItemID int       `json:"itemId"`
	Media  Media     `json:"media"`
	Info   QueueInfo `json:"info"`
}

// State is the shared world model mirrored between server and clients. The
// server's copy is authoritative and mutated only from the engine loop;
// client copies are thin mirrors rebuilt from broadcasts.
type State struct {
	Users  map[UserID]*User
	Grid   map[Coord]uint8
	Echoes map[Coord]Echo

	Queue      []QueueItem
	LastPlayed *QueueItem
}

func NewState() *State {
	s := &State{}
	s.Clear()
	return s
}

func (s *State) Clear() {
	s.Users = map[UserID]*User{}
	s.Grid = map[Coord]uint8{}
	s.Echoes = map[Coord]Echo{}
	s.Queue = nil
	s.LastPlayed = nil
}

// GetUser returns the user record for id, creating an empty one if absent.
func (s *State) GetUser(id UserID) *User {
	u, ok := s.Users[id]
	if !ok {
		u = &User{UserID: id}
		s.Users[id] = u
	}
	return u
}

// UserByName finds a present user by display name.
func (s *State) UserByName(name string) (*User, bool) {
	for _, u := range s.Users {
		if u.Name == name {
			return u, true
		}
	}
	return nil, false
}

// Names lists the display names of joined users.
func (s *State) Names() []string {
	names := make([]string, 0, len(s.Users))
	for _, u := range s.Users {
		if u.Name != "" {
			names = append(names, u.Name)
		}
	}
	return names
}

// Cell pairs a grid coordinate with its block value, for snapshots and the
// one-time blocks hand-off.
type Cell struct {
	Coord Coord `json:"coord"`
	Value uint8 `json:"value"`
}

// Cells flattens the sparse grid.
func (s *State) Cells() []Cell {
	cells := make([]Cell, 0, len(s.Grid))
	for coord, value := range s.Grid {
		cells = append(cells, Cell{Coord: coord, Value: value})
	}
	return cells
}

// SetCell writes a grid cell; value 0 clears it.
func (s *State) SetCell(coord Coord, value uint8) {
	if value == 0 {
		delete(s.Grid, coord)
	} else {
		s.Grid[coord] = value
	}
}

// AllEchoes flattens the echo map.
func (s *State) AllEchoes() []Echo {
	echoes := make([]Echo, 0, len(s.Echoes))
	for _, e := range s.Echoes {
		echoes = append(echoes, e)
	}
	return echoes
}

// QueueItemByID finds a queued (not yet played) item.
func (s *State) QueueItemByID(itemID int) (QueueItem, bool) {
	for _, item := range s.Queue {
		if item.ItemID == itemID {
			return item, true
		}
	}
	return QueueItem{}, false
}

// RemoveQueueItem drops itemID from the mirror queue.
func (s *State) RemoveQueueItem(itemID int) (QueueItem, bool) {
	for i, item := range s.Queue {
		if item.ItemID == itemID {
			s.Queue = append(s.Queue[:i], s.Queue[i+1:]...)
			return item, true
		}
	}
	return QueueItem{}, false
}
