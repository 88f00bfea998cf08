package ingest

import (
	"bytes"
	"errors"
)

// ErrFrameTooLarge 单行超过上限 (防止异常数据撑爆缓冲区)
var ErrFrameTooLarge = errors.New("ingest: frame too large")

// LineScanner 为 bufio.Scanner 提供按行切分的 Split 函数
type LineScanner struct {
	maxFrame int
}

// NewLineScanner maxFrame 为单行最大字节数 (不含换行符)
func NewLineScanner(maxFrame int) *LineScanner {
	if maxFrame <= 0 {
		maxFrame = 1024
	}
	return &LineScanner{maxFrame: maxFrame}
}

// SplitFunc 以 '\n' 分帧, 容忍 "\r\n"; 空行跳过 (advance > 0, token == nil)
func (ls *LineScanner) SplitFunc(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		limit := ls.maxFrame
		if len(data) > 0 && data[len(data)-1] == '\r' {
			// "\r\n" 的 '\r' 可能先于 '\n' 到达
			limit++
		}
		if len(data) > limit {
			return 0, nil, ErrFrameTooLarge
		}
		if atEOF {
			// EOF 时最后一行没有换行符
			return len(data), trimFrame(data), nil
		}
		// 需要更多数据
		return 0, nil, nil
	}

	line := trimFrame(data[:i])
	if len(line) > ls.maxFrame {
		return 0, nil, ErrFrameTooLarge
	}
	return i + 1, line, nil
}

func trimFrame(b []byte) []byte {
	b = bytes.TrimRight(b, "\r")
	if len(b) == 0 {
		return nil
	}
	return b
}
