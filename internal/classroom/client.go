package classroom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is a simple HTTP client for the school platform's classroom
// directory. The engine schedules by classroom ID alone; the directory only
// enriches dashboards with display names, so lookups are optional and cached.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

// Classroom is the directory's view of one classroom.
type Classroom struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	TeacherName  string `json:"teacher_name,omitempty"`
	StudentCount int    `json:"student_count,omitempty"`
}

// NewClient constructs a directory client with baseURL and API key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// UseRedisCache configures optional Redis caching for GET endpoints.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// GetClassroom fetches one classroom's directory entry.
func (c *Client) GetClassroom(ctx context.Context, classroomID string) (*Classroom, error) {
	endpoint := fmt.Sprintf("%s/api/v1/classrooms/%s", c.baseURL, url.PathEscape(classroomID))
	cacheKey := fmt.Sprintf("classroom:%s", classroomID)
	var resp Classroom

	if c.readCache(ctx, cacheKey, &resp) {
		return &resp, nil
	}

	if err := c.doGet(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, resp)
	return &resp, nil
}

// ListClassrooms returns all classrooms known to the directory.
func (c *Client) ListClassrooms(ctx context.Context) ([]Classroom, error) {
	endpoint := fmt.Sprintf("%s/api/v1/classrooms", c.baseURL)
	cacheKey := "classrooms"
	var wrap struct {
		Classrooms []Classroom `json:"classrooms"`
	}

	if c.readCache(ctx, cacheKey, &wrap) {
		return wrap.Classrooms, nil
	}

	if err := c.doGet(ctx, endpoint, &wrap); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, wrap)
	return wrap.Classrooms, nil
}

// HealthCheck checks if the directory API is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/healthz", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	return dec.Decode(out)
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}
