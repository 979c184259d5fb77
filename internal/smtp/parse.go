package smtp

import (
	"bytes"
	"mime"
	"net/mail"
)

// envelope 是从邮件头部提取的元数据。正文以原始形式整体保存，
// 不做 MIME 展开。
type envelope struct {
	Subject string
	From    string
	To      string
}

// parseEnvelope 解析邮件头部。解析失败时返回空信封而不是报错，
// 头部损坏的邮件仍然按原始内容投递。
func parseEnvelope(raw []byte) envelope {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return envelope{}
	}
	return envelope{
		Subject: decodeHeader(msg.Header.Get("Subject")),
		From:    decodeHeader(msg.Header.Get("From")),
		To:      decodeHeader(msg.Header.Get("To")),
	}
}

// decodeHeader 解码 RFC 2047 编码的头部，失败时原样返回。
func decodeHeader(value string) string {
	if value == "" {
		return value
	}
	decoder := new(mime.WordDecoder)
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
