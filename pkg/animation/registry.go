package animation

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry is a thread-safe collection of animations keyed by name.
type Registry struct {
	mu    sync.RWMutex
	anims map[string]*Animation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{anims: make(map[string]*Animation)}
}

// LoadBuiltIn registers every embedded animation.
func (r *Registry) LoadBuiltIn() error {
	names, err := ListEmbedded()
	if err != nil {
		return err
	}
	for _, name := range names {
		anim, err := LoadEmbedded(name)
		if err != nil {
			return fmt.Errorf("failed to load animation %q: %w", name, err)
		}
		r.Register(anim)
	}
	return nil
}

// LoadDir registers every animation in dir and returns how many were loaded.
func (r *Registry) LoadDir(dir string) (int, error) {
	anims, err := LoadFromDirectory(dir)
	if err != nil {
		return 0, err
	}
	for _, anim := range anims {
		r.Register(anim)
	}
	return len(anims), nil
}

// Register adds or replaces an animation.
func (r *Registry) Register(anim *Animation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anims[anim.Name] = anim
}

// Unregister removes an animation.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.anims, name)
}

// Get retrieves an animation by name.
func (r *Registry) Get(name string) (*Animation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	anim, ok := r.anims[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return anim, nil
}

// List returns all registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.anims))
	for name := range r.anims {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered animations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.anims)
}

// Search finds animations whose name or description contains query,
// case-insensitively.
func (r *Registry) Search(query string) []string {
	q := strings.ToLower(query)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []string
	for name, anim := range r.anims {
		if strings.Contains(strings.ToLower(name), q) ||
			strings.Contains(strings.ToLower(anim.Description), q) {
			matches = append(matches, name)
		}
	}
	sort.Strings(matches)
	return matches
}

// Summary describes an animation for listings.
type Summary struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	LastKeyframeMs int    `json:"last_keyframe_ms"`
	AudioEvents    int    `json:"audio_events"`
	Keyframes      int    `json:"keyframes"`
}

// Summaries returns a summary per animation, sorted by name.
func (r *Registry) Summaries() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.anims))
	for _, a := range r.anims {
		out = append(out, Summary{
			Name:           a.Name,
			Description:    a.Description,
			LastKeyframeMs: a.LastKeyframeTimeMs(),
			AudioEvents:    len(a.Audio),
			Keyframes:      a.KeyframeCount(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
