package schema

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"

	"ormkit/errors"
)

// EncodeForStorage 写入前按字段声明做哈希或加密；其它字段原样返回
func (f *Field) EncodeForStorage(v any) (any, error) {
	if v == nil || (f.Hash == nil && f.Encrypt == nil) {
		return v, nil
	}
	plain, ok := v.(string)
	if !ok {
		return nil, errors.NewValidationError(fmt.Sprintf("字段 %s 需要字符串值（当前 %T）", f.Name, v))
	}
	if f.Hash != nil {
		if isBcryptHash(plain) {
			return plain, nil
		}
		return HashValue(plain, f.Hash.Cost)
	}
	return EncryptValue(f.Encrypt.Key, plain)
}

// DecodeFromStorage 读取后解密；哈希字段保持哈希
func (f *Field) DecodeFromStorage(v any) (any, error) {
	if v == nil || f.Encrypt == nil {
		return v, nil
	}
	var stored string
	switch t := v.(type) {
	case string:
		stored = t
	case []byte:
		stored = string(t)
	default:
		return v, nil
	}
	return DecryptValue(f.Encrypt.Key, stored)
}

// HashValue bcrypt 哈希，cost <= 0 使用 bcrypt.DefaultCost
func HashValue(plain string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", errors.WrapError(err, errors.ErrCodeValidation, "哈希失败")
	}
	return string(out), nil
}

// CompareHash 校验明文与哈希是否匹配
func CompareHash(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

func isBcryptHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

// EncryptValue AES-GCM 加密，结果为 base64(nonce || ciphertext)
func EncryptValue(key []byte, plain string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.WrapError(err, errors.ErrCodeInternal, "生成随机数失败")
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptValue EncryptValue 的逆操作
func DecryptValue(key []byte, stored string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", errors.WrapError(err, errors.ErrCodePersistence, "密文格式错误")
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.NewError(errors.ErrCodePersistence, "密文长度不足")
	}
	nonce, body := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", errors.WrapError(err, errors.ErrCodePersistence, "解密失败")
	}
	return string(plain), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfiguration, "加密密钥非法")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfiguration, "初始化 GCM 失败")
	}
	return gcm, nil
}
