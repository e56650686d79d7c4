package redis

import "fmt"

// LoginRateKey 登录限流键，identifier 为登录账号或降级后的 "ip:..."。
func LoginRateKey(identifier string) string {
	return fmt.Sprintf("rfq_store:rate_limit:login:%s", identifier)
}
