package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	email := flag.String("email", "customer@example.com", "login email")
	password := flag.String("password", "password123", "login password")

	// 单会话互斥测试参数：同一账号并发登录，预期恰好 1 个 200，其余 409
	total := flag.Int("n", 50, "concurrent login attempts")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	// 1) 会话互斥测试：同一账号并发登录
	fmt.Printf("start session exclusivity test: email=%s n=%d concurrency=%d\n",
		*email, *total, *concurrency)
	results := runLogin(client, *baseURL, *email, *password, *total, *concurrency)
	printSummary("session_exclusivity", results)

	// 2) 限流测试：继续用同一账号高频打登录接口（容易触发 429）
	fmt.Println("\nstart rate limit test: same account, 100 requests")
	results2 := runLogin(client, *baseURL, *email, *password, 100, *concurrency)
	printSummary("rate_limit", results2)
}

func runLogin(client *http.Client, baseURL, email, password string, total, concurrency int) []Result {
	type Req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			results[idx] = loginOnce(client, baseURL, Req{Email: email, Password: password})
		}(i)
	}

	wg.Wait()
	return results
}

func loginOnce(client *http.Client, baseURL string, req any) Result {
	b, _ := json.Marshal(req)
	url := fmt.Sprintf("%s/api/auth/login", baseURL)
	httpReq, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(body)}
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 401, 409, 429, 500, 503} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}
