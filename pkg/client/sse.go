package client

import (
	"bufio"
	"io"
	"strings"
)

// streamEvent 一条完整的SSE事件
type streamEvent struct {
	name string
	data []byte
}

// readStream 按行解析SSE，空行结束一个事件；注释行（心跳）忽略
func readStream(r io.Reader, fn func(streamEvent)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		name string
		data strings.Builder
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if name != "" || data.Len() > 0 {
				if name == "" {
					name = "message"
				}
				fn(streamEvent{name: name, data: []byte(data.String())})
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}
