package common

import (
	"strconv"
	"strings"
)

// Store key prefixes. Every persisted record lives under one of them.
const (
	KeyPrefixAuth       = "auth/"
	KeyPrefixStableAuth = "stable-auth/"
	KeyPrefixProvider   = "provider/"
	KeyPrefixStablePage = "stable/page/"
	KeyMetadata         = "metadata"
	KeyStableSize       = "stable/size"
)

// KeyStableAuthBootstrapped marks that the stable-auth set has had a member.
const KeyStableAuthBootstrapped = "stable-auth-bootstrapped"

func AuthKey(id Identity) []byte {
	return []byte(KeyPrefixAuth + string(id))
}

func StableAuthKey(id Identity) []byte {
	return []byte(KeyPrefixStableAuth + string(id))
}

// ProviderKey zero-pads the id so that prefix iteration yields providers in
// id order.
func ProviderKey(id uint64) []byte {
	return []byte(paddedKey(KeyPrefixProvider, id))
}

func StablePageKey(page uint64) []byte {
	return []byte(paddedKey(KeyPrefixStablePage, page))
}

// IdentityFromKey strips the prefix from an auth or stable-auth key.
func IdentityFromKey(prefix string, key []byte) Identity {
	return Identity(strings.TrimPrefix(string(key), prefix))
}

func paddedKey(prefix string, n uint64) string {
	const width = 20 // digits in max uint64
	digits := strconv.FormatUint(n, 10)
	var sb strings.Builder
	sb.Grow(len(prefix) + width)
	sb.WriteString(prefix)
	for i := len(digits); i < width; i++ {
		sb.WriteByte('0')
	}
	sb.WriteString(digits)
	return sb.String()
}
