package cache

import "fmt"

func RateLimitKey(client string) string {
	return fmt.Sprintf("casebridge:ratelimit:%s", client)
}
