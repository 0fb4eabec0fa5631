package streamer

import (
	"github.com/teslashibe/go-animstream/pkg/mixing"
	"github.com/teslashibe/go-animstream/pkg/msgbuffer"
	"github.com/teslashibe/go-animstream/pkg/streaming"
)

// Status is a point-in-time view of the streamer.
type Status struct {
	Running          bool                 `json:"running"`
	Connected        bool                 `json:"connected"`
	State            string               `json:"state"`
	Ticks            uint64               `json:"ticks"`
	SendErrors       uint64               `json:"send_errors"`
	Completed        uint64               `json:"completed"`
	Aborted          uint64               `json:"aborted"`
	Queue            []streaming.Snapshot `json:"queue"`
	FreeSources      int                  `json:"free_sources"`
	BufferedMessages int                  `json:"buffered_messages"`
	BufferedBytes    int                  `json:"buffered_bytes"`
	Streamed         msgbuffer.Counters   `json:"streamed"`
	PlayedBytes      int32                `json:"played_bytes"`
	PlayedFrames     int32                `json:"played_frames"`
	Credit           msgbuffer.Budget     `json:"credit"`
	AudioClock       uint64               `json:"audio_clock"`
	Output           mixing.OutputStats   `json:"output"`
	Flow             msgbuffer.FlowConfig `json:"flow"`
}

// Status returns a snapshot.
func (s *Streamer) Status() Status {
	playedBytes, playedFrames := s.link.PlayedCounters()

	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:          s.running.Load(),
		Connected:        s.link.Connected(),
		State:            s.il.State().String(),
		Ticks:            s.tickCount,
		SendErrors:       s.errorCount,
		Completed:        s.completed,
		Aborted:          s.aborted,
		Queue:            s.il.Queue(),
		FreeSources:      s.il.AvailableSources(),
		BufferedMessages: s.buf.Len(),
		BufferedBytes:    s.buf.QueuedBytes(),
		Streamed:         s.buf.Counters(),
		PlayedBytes:      playedBytes,
		PlayedFrames:     playedFrames,
		Credit:           s.lastCredit,
		AudioClock:       s.il.AudioClock(),
		Output:           s.il.OutputStats(),
		Flow:             s.credit.Config(),
	}
}
