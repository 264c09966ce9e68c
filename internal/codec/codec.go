// Package codec 在文本和串口字节之间转换，编码按名称选择（默认gbk）。
package codec

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "github.com/wfunc/serial-echo/internal/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultEncoding 默认收发编码
const DefaultEncoding = "gbk"

// Codec 文本编解码器
type Codec struct {
	name string
	enc  encoding.Encoding
}

// Lookup 按名称（如 gbk、gb18030、big5、shift_jis、utf-8）查找编解码器
func Lookup(name string) (*Codec, error) {
	label := strings.ToLower(strings.TrimSpace(name))
	if label == "" {
		label = DefaultEncoding
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrUnknownEncoding, label)
	}

	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = label
	}

	return &Codec{name: canonical, enc: enc}, nil
}

// MustLookup 同 Lookup，失败时panic（仅用于常量名称）
func MustLookup(name string) *Codec {
	c, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return c
}

// Name 规范化的编码名
func (c *Codec) Name() string {
	return c.name
}

// Encode 将文本编码为字节；无法用该编码表示的字符返回 ErrEncode
func (c *Codec) Encode(text string) ([]byte, error) {
	if text == "" {
		return []byte{}, nil
	}
	if !utf8.ValidString(text) {
		return nil, apperrors.Newf(apperrors.ErrEncode, "%s: 输入不是有效的UTF-8文本", c.name)
	}

	out, err := c.enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrEncode, c.name)
	}
	return out, nil
}

// Decode 将字节解码为文本；非法字节序列返回 ErrDecode，不做替换
func (c *Codec) Decode(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}

	out, err := c.enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrDecode, c.name)
	}

	text := string(out)
	// 解码器遇到非法序列会输出U+FFFD；只有原样编回去的才算合法
	if strings.ContainsRune(text, utf8.RuneError) {
		back, err := c.enc.NewEncoder().Bytes(out)
		if err != nil || !bytes.Equal(back, data) {
			return "", apperrors.Newf(apperrors.ErrDecode, "%s: 无效的字节序列 %s", c.name, preview(data))
		}
	}

	return text, nil
}

// preview 错误信息中展示的字节（最多32个）
func preview(data []byte) string {
	const max = 32
	if len(data) > max {
		return fmt.Sprintf("% x ...", data[:max])
	}
	return fmt.Sprintf("% x", data)
}
