package epd

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// perfHeader matches the CSV layout consumed by the timing analysis
// scripts; list fields are colon-separated microseconds since the epoch.
const perfHeader = "id,mode,width,height,queue_time,dequeue_time,generate_times,vsync_times\n"

// perfRecorder accumulates one CSV row per completed update. It is written
// by whichever worker finishes an update (vsync normally, the generator in
// dry runs) and read by PerfReport, so it carries its own lock.
type perfRecorder struct {
	mu   sync.Mutex
	rows strings.Builder
}

func (r *perfRecorder) record(u *Update) {
	var b strings.Builder
	b.WriteString(formatIDs(u.ids))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(int(u.mode)))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(u.region.Width))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(u.region.Height))
	b.WriteByte(',')
	b.WriteString(micros(u.queueTime))
	b.WriteByte(',')
	b.WriteString(micros(u.dequeueTime))
	b.WriteByte(',')
	b.WriteString(microsList(u.generateTimes))
	b.WriteByte(',')
	b.WriteString(microsList(u.vsyncTimes))
	b.WriteByte('\n')

	r.mu.Lock()
	r.rows.WriteString(b.String())
	r.mu.Unlock()
}

func (r *perfRecorder) report() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return perfHeader + r.rows.String()
}

func micros(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func microsList(ts []time.Time) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = micros(t)
	}
	return strings.Join(parts, ":")
}
