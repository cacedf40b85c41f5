package cdn

// PartitionPath shards a content key into the two-level directory layout
// used by both remote and local storage: "abcdef0123" -> "ab/cd/abcdef0123".
// The key must be a hex string of at least 4 characters.
func PartitionPath(key string) string {
	return key[0:2] + "/" + key[2:4] + "/" + key
}

// Item path layout under a CDN path prefix.

func configItemPath(key string) string {
	return "/config/" + PartitionPath(key)
}

func dataItemPath(key string) string {
	return "/data/" + PartitionPath(key)
}

func indexItemPath(key string) string {
	return dataItemPath(key) + ".index"
}
