package authenticated

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ============================================================================
//                              HKDF 密钥派生
// ============================================================================

const (
	// 认证密钥派生 info
	authKeyInfo = "go-duplex-auth-key-v1"

	// 密钥长度（32 字节 = 256 位）
	keyLength = 32

	// nonce 长度
	nonceLength = 32
)

// DeriveKey 从共享口令派生认证密钥
//
// 使用 HKDF-SHA256，相同的口令与盐总是派生出相同的密钥。
func DeriveKey(secret, salt []byte) []byte {
	if len(secret) == 0 {
		return nil
	}
	kdf := hkdf.New(sha256.New, secret, salt, []byte(authKeyInfo))

	key := make([]byte, keyLength)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil
	}
	return key
}

// ============================================================================
//                              挑战-响应认证
// ============================================================================

// ChallengeAuthenticator 基于共享密钥的挑战-响应认证
//
// 流程：
//  1. 客户端以 ResponseReceiverID 作为登录消息
//  2. 服务端返回随机 nonce 作为握手消息
//  3. 客户端返回 HMAC-SHA256(key, nonce||login)
//  4. 服务端校验 HMAC 且登录消息与连接标识一致
type ChallengeAuthenticator struct {
	key []byte
}

// NewChallengeAuthenticator 创建挑战认证器
func NewChallengeAuthenticator(key []byte) *ChallengeAuthenticator {
	return &ChallengeAuthenticator{key: append([]byte(nil), key...)}
}

// Callbacks 返回客户端与服务端回调
func (a *ChallengeAuthenticator) Callbacks() Callbacks {
	return Callbacks{
		GetLoginMessage:             a.GetLoginMessage,
		GetHandshakeResponseMessage: a.GetHandshakeResponseMessage,
		GetHandshakeMessage:         a.GetHandshakeMessage,
		Authenticate:                a.Authenticate,
	}
}

// GetLoginMessage 客户端登录消息
func (a *ChallengeAuthenticator) GetLoginMessage(_, responseReceiverID string) []byte {
	return []byte(responseReceiverID)
}

// GetHandshakeMessage 服务端生成随机 nonce
func (a *ChallengeAuthenticator) GetHandshakeMessage(_, _ string, _ []byte) []byte {
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil
	}
	return nonce
}

// GetHandshakeResponseMessage 客户端计算证明
func (a *ChallengeAuthenticator) GetHandshakeResponseMessage(_, responseReceiverID string, handshake []byte) []byte {
	if len(handshake) != nonceLength {
		return nil
	}
	return a.proof(handshake, []byte(responseReceiverID))
}

// Authenticate 服务端校验证明
func (a *ChallengeAuthenticator) Authenticate(_, responseReceiverID string, login, handshake, response []byte) bool {
	if string(login) != responseReceiverID {
		return false
	}
	return hmac.Equal(response, a.proof(handshake, login))
}

// proof 计算 HMAC-SHA256(key, nonce||login)
func (a *ChallengeAuthenticator) proof(nonce, login []byte) []byte {
	h := hmac.New(sha256.New, a.key)
	h.Write(nonce)
	h.Write(login)
	return h.Sum(nil)
}
