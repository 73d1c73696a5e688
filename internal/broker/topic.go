package broker

import "strings"

// MatchTopic reports whether routingKey matches an AMQP topic pattern.
// Words are separated by '.', '*' matches exactly one word and '#'
// matches zero or more words.
func MatchTopic(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		head := pattern[0]
		if head == "#" {
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(rest, key[i:]) {
					return true
				}
			}
			return false
		}

		if len(key) == 0 {
			return false
		}
		if head != "*" && head != key[0] {
			return false
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}
