// Package cms はヘッドレスCMSからのコンテンツ取得とレンダリングを提供する。
// CMSはGraphQL風の単一エンドポイントで、クエリ文字列と変数をPOSTで受け取り
// 構造化されたコンテンツブロックを返す。
package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// LatencyRecorder はCMS呼び出しのレイテンシ記録インターフェース。
// metrics.Collectorの部分集合として定義する。
type LatencyRecorder interface {
	RecordCMSLatency(duration time.Duration)
}

// Client はCMSコンテンツAPIのクライアント。
type Client struct {
	httpClient *http.Client
	endpoint   string
	token      string
	logger     *slog.Logger
	metrics    LatencyRecorder
}

// NewClient はClientを生成する。
// tokenが空の場合はAuthorizationヘッダーを付与しない（公開コンテンツのみ）。
// metricsはnilを許容する。
func NewClient(httpClient *http.Client, endpoint, token string, logger *slog.Logger, metrics LatencyRecorder) *Client {
	return &Client{
		httpClient: httpClient,
		endpoint:   endpoint,
		token:      token,
		logger:     logger,
		metrics:    metrics,
	}
}

// queryRequest はCMSへのリクエストボディ。
type queryRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// queryResponse はCMSのレスポンス。dataとerrorsは同時に存在しうる。
type queryResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []queryError    `json:"errors,omitempty"`
}

// queryError はCMSのクエリエラー1件。
type queryError struct {
	Message string `json:"message"`
}

// Query はクエリと変数をPOSTし、dataフィールドを返す。
// CMSがerrorsを返した場合はメッセージを連結してエラーにする。
// リトライはしない。1回の失敗はそのリクエストに対して最終とする。
func (c *Client) Query(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody, err := json.Marshal(queryRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("failed to encode CMS query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create CMS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.RecordCMSLatency(time.Since(start))
	}
	if err != nil {
		c.logger.Error("CMS APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("CMS request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read CMS response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("CMS APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("CMS returned status %d", resp.StatusCode)
	}

	var parsed queryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse CMS response: %w", err)
	}

	if len(parsed.Errors) > 0 {
		messages := make([]string, len(parsed.Errors))
		for i, e := range parsed.Errors {
			messages[i] = e.Message
		}
		return nil, fmt.Errorf("CMS query errors: %s", strings.Join(messages, "; "))
	}

	return parsed.Data, nil
}
