package protocol

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// PasswordHash computes MD5(username:realm:password) as uppercase hex
func PasswordHash(username, realm, password string) string {
	return md5Upper(username + ":" + realm + ":" + password)
}

// HashPassword computes the token sent in the authenticated global.login:
//
//	passwordHash = MD5(username:realm:password)
//	token        = MD5(username:random:passwordHash)
//
// Both digests are uppercase hex.
func HashPassword(username, password, realm, random string) string {
	return md5Upper(username + ":" + random + ":" + PasswordHash(username, realm, password))
}

func md5Upper(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
