package protocol

// AnimationMarker brackets the frames of one animation.
type AnimationMarker struct {
	AnimTag uint8  `json:"anim_tag"`
	Name    string `json:"name,omitempty"`
}

// DeviceAudio asks the companion device to play an audio event.
type DeviceAudio struct {
	Event  string  `json:"event"`
	Volume float32 `json:"volume"`
}

// FaceImage shows a named face frame.
type FaceImage struct {
	Image string `json:"image"`
}

// HeadAngle moves the head.
type HeadAngle struct {
	AngleDeg       float64 `json:"angle_deg"`
	SpeedDegPerSec float64 `json:"speed_deg_per_sec,omitempty"`
	DurationMs     int     `json:"duration_ms,omitempty"`
}

// LiftHeight moves the lift.
type LiftHeight struct {
	HeightMm      float64 `json:"height_mm"`
	SpeedMmPerSec float64 `json:"speed_mm_per_sec,omitempty"`
	DurationMs    int     `json:"duration_ms,omitempty"`
}

// BodyMotion drives the treads.
type BodyMotion struct {
	SpeedMmPerSec float64 `json:"speed_mm_per_sec"`
	CurvatureMm   float64 `json:"curvature_mm"` // Turn radius, 0 for straight
	DurationMs    int     `json:"duration_ms,omitempty"`
}

// AnimEvent fires a named animation event on the robot.
type AnimEvent struct {
	ID string `json:"id"`
}

// BackpackLights sets the five backpack LEDs. Colors are 0xRRGGBBAA.
type BackpackLights struct {
	Colors     [5]uint32 `json:"colors"`
	DurationMs int       `json:"duration_ms,omitempty"`
}

// NewStartOfAnimation creates a start marker.
func NewStartOfAnimation(animTag uint8, name string) (*RobotMessage, error) {
	return newJSONMessage(TagStartOfAnimation, AnimationMarker{AnimTag: animTag, Name: name})
}

// NewEndOfAnimation creates an end marker.
func NewEndOfAnimation(animTag uint8) (*RobotMessage, error) {
	return newJSONMessage(TagEndOfAnimation, AnimationMarker{AnimTag: animTag})
}

// NewDeviceAudio creates a device audio message.
func NewDeviceAudio(v DeviceAudio) (*RobotMessage, error) {
	return newJSONMessage(TagDeviceAudio, v)
}

// NewFaceImage creates a face message.
func NewFaceImage(v FaceImage) (*RobotMessage, error) {
	return newJSONMessage(TagFaceImage, v)
}

// NewHeadAngle creates a head message.
func NewHeadAngle(v HeadAngle) (*RobotMessage, error) {
	return newJSONMessage(TagHeadAngle, v)
}

// NewLiftHeight creates a lift message.
func NewLiftHeight(v LiftHeight) (*RobotMessage, error) {
	return newJSONMessage(TagLiftHeight, v)
}

// NewBodyMotion creates a body motion message.
func NewBodyMotion(v BodyMotion) (*RobotMessage, error) {
	return newJSONMessage(TagBodyMotion, v)
}

// NewAnimEvent creates an event message.
func NewAnimEvent(v AnimEvent) (*RobotMessage, error) {
	return newJSONMessage(TagEvent, v)
}

// NewBackpackLights creates a backpack lights message.
func NewBackpackLights(v BackpackLights) (*RobotMessage, error) {
	return newJSONMessage(TagBackpackLights, v)
}
