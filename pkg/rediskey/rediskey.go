package rediskey

import "fmt"

const (
	ContentPrefix = "catalog:content"
	ProfilePrefix = "catalog:profile"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildContentKey returns "catalog:content:{contentID}"
func BuildContentKey(contentID string) string {
	return NamespaceKey(ContentPrefix, contentID)
}

// BuildProfileKey returns "catalog:profile:{creatorID}"
func BuildProfileKey(creatorID string) string {
	return NamespaceKey(ProfilePrefix, creatorID)
}
