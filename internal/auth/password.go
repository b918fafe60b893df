package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 6
	// bcrypt 只使用前 72 字节。
	maxPasswordLength = 72
)

// passwordHasher 使用 bcrypt 生成和校验密码摘要。
type passwordHasher struct {
	cost int
}

func newPasswordHasher(cost int) passwordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return passwordHasher{cost: cost}
}

// Hash 返回密码的 bcrypt 摘要。
func (h passwordHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify 判断密码与摘要是否匹配。
func (h passwordHasher) Verify(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}
