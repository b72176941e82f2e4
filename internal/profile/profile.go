// Package profile holds the equipment profiles the plugin settings are
// scoped to.
package profile

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"github.com/google/uuid"

	"solveeverylight/internal/imaging"
	"solveeverylight/internal/platesolve"
)

// TopicProfileChanged is published after the active profile switches.
const TopicProfileChanged = "profile:changed"

// ErrUnknownProfile is returned when switching to a profile that does not exist.
var ErrUnknownProfile = errors.New("unknown profile")

// ImageFileSettings are the profile's save settings.
type ImageFileSettings struct {
	FileType imaging.FileFormat `json:"file_type" mapstructure:"file_type"`
}

// Profile is one equipment profile.
type Profile struct {
	ID                uuid.UUID                  `json:"id"`
	Name              string                     `json:"name"`
	ImageFileSettings ImageFileSettings          `json:"image_file_settings"`
	PlateSolve        platesolve.ProfileSettings `json:"plate_solve"`
}

// Service tracks the known profiles and the active one.
type Service struct {
	bus evbus.Bus

	mu       sync.RWMutex
	profiles map[uuid.UUID]Profile
	active   uuid.UUID
}

// NewService returns a service with initial as the active profile.
func NewService(initial Profile) *Service {
	if initial.ID == uuid.Nil {
		initial.ID = uuid.New()
	}
	return &Service{
		bus:      evbus.New(),
		profiles: map[uuid.UUID]Profile{initial.ID: initial},
		active:   initial.ID,
	}
}

// ActiveProfile returns a copy of the active profile.
func (s *Service) ActiveProfile() Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[s.active]
}

// Profiles lists every profile sorted by name.
func (s *Service) Profiles() []Profile {
	s.mu.RLock()
	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Put adds or replaces a profile. Replacing the active profile does not
// raise a change event.
func (s *Service) Put(p Profile) Profile {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()
	return p
}

// SetActive switches the active profile and notifies subscribers.
func (s *Service) SetActive(id uuid.UUID) error {
	s.mu.Lock()
	p, ok := s.profiles[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownProfile, id)
	}
	changed := s.active != id
	s.active = id
	s.mu.Unlock()

	if changed {
		s.bus.Publish(TopicProfileChanged, p)
	}
	return nil
}

// OnProfileChanged registers fn for profile switches. The returned function
// removes it.
func (s *Service) OnProfileChanged(fn func(Profile)) (unsubscribe func(), err error) {
	// EventBus matches handlers by code pointer, so wrap fn in a value we
	// own and compare against.
	h := &changeHandler{fn: fn}
	if err := s.bus.Subscribe(TopicProfileChanged, h.handle); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { h.disable() })
	}, nil
}

type changeHandler struct {
	mu  sync.Mutex
	fn  func(Profile)
	off bool
}

func (h *changeHandler) handle(p Profile) {
	h.mu.Lock()
	fn, off := h.fn, h.off
	h.mu.Unlock()
	if !off {
		fn(p)
	}
}

func (h *changeHandler) disable() {
	h.mu.Lock()
	h.off = true
	h.mu.Unlock()
}
