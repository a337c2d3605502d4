package events

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// maxLineSize はイベントストリームの1行の上限。
const maxLineSize = 1 << 20

// frame はtext/event-streamの1イベント分。
type frame struct {
	event    string
	data     string
	hasData  bool
	id       string
	hasID    bool
	retry    time.Duration
	hasRetry bool
}

// decoder はtext/event-streamを行単位で読み、空行ごとにframeを返す。
// コメント行（":"始まり）は無視する。
type decoder struct {
	scanner *bufio.Scanner
}

func newDecoder(r io.Reader) *decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxLineSize)
	return &decoder{scanner: s}
}

// next は次のframeを返す。ストリームの終端ではio.EOFを返す。
// dataを持たないframe（retryやidのみ）もそのまま返す。
func (d *decoder) next() (frame, error) {
	var (
		f       frame
		data    strings.Builder
		hasData bool
		touched bool
	)

	for d.scanner.Scan() {
		line := d.scanner.Text()

		if line == "" {
			if !touched {
				continue
			}
			if hasData {
				f.data = strings.TrimSuffix(data.String(), "\n")
				f.hasData = true
			}
			return f, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		touched = true

		switch field {
		case "event":
			f.event = value
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				f.id = value
				f.hasID = true
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				f.retry = time.Duration(ms) * time.Millisecond
				f.hasRetry = true
			}
		}
	}

	if err := d.scanner.Err(); err != nil {
		return frame{}, err
	}
	return frame{}, io.EOF
}
