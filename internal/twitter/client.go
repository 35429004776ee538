// Package twitter は検索APIのクライアントを提供する。
// OAuth1 のユーザーコンテキスト認証で GET /search/tweets.json を呼び出し、
// 上限ID（max_id）によるカーソル型ページングに必要なパラメータを組み立てる。
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/oauth1"

	"github.com/hitoshi/tweetharvest/internal/model"
)

const (
	// DefaultBaseURL は検索APIのベースURL。
	DefaultBaseURL = "https://api.twitter.com/1.1"
	// MaxCount は1リクエストあたりの最大取得件数。
	MaxCount = 100
	// maxErrorBodySize はエラーレスポンスを読み取る上限。
	maxErrorBodySize = 64 << 10
)

// Credentials はOAuth1の認証情報。
type Credentials struct {
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
}

// SearchParams は1回の検索呼び出しのパラメータ。
type SearchParams struct {
	Query string
	// MaxID はこのID以下の投稿に限定する上限カーソル。0なら指定しない。
	MaxID int64
	Count int
	Lang  string
}

// Client は検索APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// NewOAuth1HTTPClient はリクエストにOAuth1署名を付与するhttp.Clientを生成する。
func NewOAuth1HTTPClient(creds Credentials, timeout time.Duration) *http.Client {
	config := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessTokenSecret)

	base := &http.Client{Timeout: timeout}
	ctx := context.WithValue(context.Background(), oauth1.HTTPClient, base)

	client := config.Client(ctx, token)
	client.Timeout = timeout
	return client
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLが空の場合はDefaultBaseURLを使用する。
func NewClient(httpClient *http.Client, baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// apiErrorResponse は検索APIのエラーレスポンス。
type apiErrorResponse struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Search は検索APIを1回呼び出し、投稿レコードを返す。
// 並び順はAPI任せで保証しない。0件の場合も空のBatchをエラーなしで返す（判断は呼び出し元）。
// ネットワーク失敗、非200応答、不正なレスポンスはすべてTransportエラーとして返す。
func (c *Client) Search(ctx context.Context, params SearchParams) (Batch, error) {
	reqURL, err := url.Parse(c.baseURL + "/search/tweets.json")
	if err != nil {
		return nil, model.NewTransportError("エンドポイントURLのパースに失敗しました", 0, "", err)
	}

	q := reqURL.Query()
	q.Set("q", params.Query)
	q.Set("result_type", "recent")
	q.Set("tweet_mode", "extended")
	q.Set("include_entities", "false")
	if params.MaxID > 0 {
		q.Set("max_id", strconv.FormatInt(params.MaxID, 10))
	}
	if params.Count > 0 {
		q.Set("count", strconv.Itoa(min(params.Count, MaxCount)))
	}
	if params.Lang != "" {
		q.Set("lang", params.Lang)
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, model.NewTransportError("HTTPリクエストの作成に失敗しました", 0, "", err)
	}
	req.Header.Set("User-Agent", "tweetharvest/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("検索APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.Int64("max_id", params.MaxID),
		)
		return nil, model.NewTransportError("検索APIの呼び出しに失敗しました", 0, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var body struct {
		Statuses []json.RawMessage `json:"statuses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.logger.Error("検索APIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewTransportError("レスポンスJSONのパースに失敗しました", resp.StatusCode, "", err)
	}

	batch := make(Batch, 0, len(body.Statuses))
	for _, raw := range body.Statuses {
		s, err := decodeStatus(raw)
		if err != nil {
			return nil, model.NewTransportError("不正な投稿レコードを受信しました", resp.StatusCode, "", err)
		}
		batch = append(batch, s)
	}

	return batch, nil
}

// statusError は非200応答をTransportエラーに変換する。
// レスポンスにAPIエラーコードが含まれていればそれを採用する（例: 88 = レート制限超過）。
func (c *Client) statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	var apiErr apiErrorResponse
	code, message := "", http.StatusText(resp.StatusCode)
	if json.Unmarshal(data, &apiErr) == nil && len(apiErr.Errors) > 0 {
		code = strconv.Itoa(apiErr.Errors[0].Code)
		message = apiErr.Errors[0].Message
	}

	c.logger.Error("検索APIがエラーステータスを返しました",
		slog.Int("http_status", resp.StatusCode),
		slog.String("api_code", code),
		slog.String("message", message),
	)

	return model.NewTransportError(
		fmt.Sprintf("検索APIがステータス %d を返しました: %s", resp.StatusCode, message),
		resp.StatusCode, code, nil,
	)
}
