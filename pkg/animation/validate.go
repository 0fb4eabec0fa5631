package animation

import (
	"errors"
	"fmt"
)

// Validate checks names, per-track ordering and audio parameters.
// All problems are reported, joined, and wrap ErrInvalidAnimation.
func (a *Animation) Validate() error {
	var errs []error
	if a.Name == "" {
		errs = append(errs, errors.New("name is empty"))
	}

	errs = append(errs, checkTrack("audio", a.Audio)...)
	errs = append(errs, checkTrack("device_audio", a.DeviceAudio)...)
	errs = append(errs, checkTrack("face", a.Face)...)
	errs = append(errs, checkTrack("head", a.Head)...)
	errs = append(errs, checkTrack("lift", a.Lift)...)
	errs = append(errs, checkTrack("body", a.Body)...)
	errs = append(errs, checkTrack("events", a.Events)...)
	errs = append(errs, checkTrack("backpack_lights", a.BackpackLights)...)

	for i, k := range a.Audio {
		if k.EventName == "" {
			errs = append(errs, fmt.Errorf("audio[%d]: event is empty", i))
		}
		if k.Probability < 0 || k.Probability > 1 {
			errs = append(errs, fmt.Errorf("audio[%d]: probability %v outside [0,1]", i, k.Probability))
		}
		if k.Volume < 0 {
			errs = append(errs, fmt.Errorf("audio[%d]: negative volume %v", i, k.Volume))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %q: %w", ErrInvalidAnimation, a.Name, errors.Join(errs...))
}

func checkTrack[K Keyframe](name string, track []K) []error {
	var errs []error
	prev := -1
	for i, k := range track {
		t := k.TriggerTime()
		if t < 0 {
			errs = append(errs, fmt.Errorf("%s[%d]: negative trigger time %d", name, i, t))
		}
		if t < prev {
			errs = append(errs, fmt.Errorf("%s[%d]: trigger time %d before %d", name, i, t, prev))
		}
		prev = t
	}
	return errs
}
