// Package twitter fetches a user profile and recent tweets through the
// twitter241 RapidAPI service.
package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrNotConfigured = errors.New("twitter api key is not configured")
	ErrUserNotFound  = errors.New("twitter user not found")
)

const (
	DefaultTweetCount = 10
	MaxTweetCount     = 20
)

type User struct {
	ID                   string `json:"id"`
	RestID               string `json:"rest_id"`
	Name                 string `json:"name"`
	ScreenName           string `json:"screen_name"`
	Description          string `json:"description"`
	FollowersCount       int    `json:"followers_count"`
	FriendsCount         int    `json:"friends_count"`
	Verified             bool   `json:"verified"`
	ProfileImageURLHTTPS string `json:"profile_image_url_https"`
}

type Author struct {
	Name            string `json:"name"`
	ScreenName      string `json:"screen_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

type Metrics struct {
	RetweetCount int `json:"retweet_count"`
	LikeCount    int `json:"like_count"`
	ReplyCount   int `json:"reply_count"`
	QuoteCount   int `json:"quote_count"`
}

type Media struct {
	Type            string `json:"type"`
	URL             string `json:"url"`
	PreviewImageURL string `json:"preview_image_url,omitempty"`
}

type Tweet struct {
	ID            string  `json:"id"`
	Text          string  `json:"text"`
	CreatedAt     string  `json:"created_at"`
	Author        Author  `json:"author"`
	PublicMetrics Metrics `json:"public_metrics"`
	Media         []Media `json:"media,omitempty"`
}

type Report struct {
	User      User      `json:"user"`
	Tweets    []Tweet   `json:"tweets"`
	Timestamp time.Time `json:"timestamp"`
}

type Config struct {
	APIKey            string
	Host              string
	BaseURL           string
	RequestsPerSecond float64
	Timeout           time.Duration
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

func NewClient(log *slog.Logger, cfg Config) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Host == "" {
		cfg.Host = "twitter241.p.rapidapi.com"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://" + cfg.Host
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  log.With(slog.String("service", "twitter")),
		now:     time.Now,
	}
}

// ClampCount bounds a requested tweet count to 1..20. Zero means the
// default of 10.
func ClampCount(n int) int {
	if n == 0 {
		return DefaultTweetCount
	}
	return min(max(n, 1), MaxTweetCount)
}

// Monitor returns the profile and up to count recent tweets. A failed tweet
// fetch still returns the profile.
func (c *Client) Monitor(ctx context.Context, username string, count int) (Report, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	user, err := c.User(ctx, username)
	if err != nil {
		return Report{}, fmt.Errorf("failed to monitor Twitter user %s: %w", username, err)
	}
	tweets, err := c.Tweets(ctx, user.RestID, ClampCount(count))
	if err != nil {
		c.logger.Warn("could not fetch tweets", slog.String("username", username), slog.Any("error", err))
		tweets = []Tweet{}
	}
	return Report{User: user, Tweets: tweets, Timestamp: c.now().UTC()}, nil
}

type rawUser struct {
	ID             string      `json:"id"`
	RestID         string      `json:"rest_id"`
	IsBlueVerified bool        `json:"is_blue_verified"`
	Legacy         *userLegacy `json:"legacy"`
}

type userLegacy struct {
	Name                 string `json:"name"`
	ScreenName           string `json:"screen_name"`
	Description          string `json:"description"`
	FollowersCount       int    `json:"followers_count"`
	FriendsCount         int    `json:"friends_count"`
	Verified             bool   `json:"verified"`
	ProfileImageURLHTTPS string `json:"profile_image_url_https"`
}

func (c *Client) User(ctx context.Context, username string) (User, error) {
	var resp struct {
		Result struct {
			Data struct {
				User struct {
					Result *rawUser `json:"result"`
				} `json:"user"`
			} `json:"data"`
		} `json:"result"`
	}
	if err := c.get(ctx, "/user", url.Values{"username": {username}}, &resp); err != nil {
		return User{}, err
	}
	u := resp.Result.Data.User.Result
	if u == nil || u.Legacy == nil {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	return User{
		ID:                   u.ID,
		RestID:               u.RestID,
		Name:                 u.Legacy.Name,
		ScreenName:           u.Legacy.ScreenName,
		Description:          u.Legacy.Description,
		FollowersCount:       u.Legacy.FollowersCount,
		FriendsCount:         u.Legacy.FriendsCount,
		Verified:             u.Legacy.Verified || u.IsBlueVerified,
		ProfileImageURLHTTPS: u.Legacy.ProfileImageURLHTTPS,
	}, nil
}

type timelineEntry struct {
	Content struct {
		ItemContent *struct {
			Typename     string `json:"__typename"`
			TweetResults struct {
				Result *rawTweet `json:"result"`
			} `json:"tweet_results"`
		} `json:"itemContent"`
	} `json:"content"`
}

type rawTweet struct {
	Typename string       `json:"__typename"`
	RestID   string       `json:"rest_id"`
	Tweet    *rawTweet    `json:"tweet"`
	Legacy   *tweetLegacy `json:"legacy"`
	Core     *struct {
		UserResults struct {
			Result *rawUser `json:"result"`
		} `json:"user_results"`
	} `json:"core"`
}

type tweetLegacy struct {
	FullText      string `json:"full_text"`
	Text          string `json:"text"`
	CreatedAt     string `json:"created_at"`
	RetweetCount  int    `json:"retweet_count"`
	FavoriteCount int    `json:"favorite_count"`
	ReplyCount    int    `json:"reply_count"`
	QuoteCount    int    `json:"quote_count"`
	Entities      struct {
		Media []struct {
			Type          string `json:"type"`
			URL           string `json:"url"`
			MediaURLHTTPS string `json:"media_url_https"`
		} `json:"media"`
	} `json:"entities"`
}

// Tweets returns up to count tweets from the user's timeline, pinned tweet
// included.
func (c *Client) Tweets(ctx context.Context, restID string, count int) ([]Tweet, error) {
	var resp struct {
		Result *struct {
			Timeline *struct {
				Instructions []struct {
					Type    string          `json:"type"`
					Entries []timelineEntry `json:"entries"`
					Entry   *timelineEntry  `json:"entry"`
				} `json:"instructions"`
			} `json:"timeline"`
		} `json:"result"`
	}
	query := url.Values{"user": {restID}, "count": {strconv.Itoa(count)}}
	if err := c.get(ctx, "/user-tweets", query, &resp); err != nil {
		return nil, err
	}
	if resp.Result == nil || resp.Result.Timeline == nil {
		return nil, errors.New("no timeline in response")
	}

	tweets := []Tweet{}
	collect := func(e *timelineEntry) {
		ic := e.Content.ItemContent
		if ic == nil || ic.Typename != "TimelineTweet" {
			return
		}
		if t, ok := parseTweet(ic.TweetResults.Result); ok {
			tweets = append(tweets, t)
		}
	}
	for _, ins := range resp.Result.Timeline.Instructions {
		switch ins.Type {
		case "TimelineAddEntries":
			for i := range ins.Entries {
				collect(&ins.Entries[i])
			}
		case "TimelinePinEntry":
			if ins.Entry != nil {
				collect(ins.Entry)
			}
		}
	}
	if len(tweets) > count {
		tweets = tweets[:count]
	}
	return tweets, nil
}

func parseTweet(raw *rawTweet) (Tweet, bool) {
	if raw != nil && raw.Typename == "TweetWithVisibilityResults" {
		raw = raw.Tweet
	}
	if raw == nil || (raw.Typename != "Tweet" && raw.RestID == "") || raw.Legacy == nil {
		return Tweet{}, false
	}
	if raw.Core == nil || raw.Core.UserResults.Result == nil || raw.Core.UserResults.Result.Legacy == nil {
		return Tweet{}, false
	}
	author := raw.Core.UserResults.Result.Legacy
	text := raw.Legacy.FullText
	if text == "" {
		text = raw.Legacy.Text
	}
	t := Tweet{
		ID:        raw.RestID,
		Text:      text,
		CreatedAt: raw.Legacy.CreatedAt,
		Author: Author{
			Name:            author.Name,
			ScreenName:      author.ScreenName,
			ProfileImageURL: author.ProfileImageURLHTTPS,
		},
		PublicMetrics: Metrics{
			RetweetCount: raw.Legacy.RetweetCount,
			LikeCount:    raw.Legacy.FavoriteCount,
			ReplyCount:   raw.Legacy.ReplyCount,
			QuoteCount:   raw.Legacy.QuoteCount,
		},
	}
	for _, m := range raw.Legacy.Entities.Media {
		mediaURL := m.MediaURLHTTPS
		if mediaURL == "" {
			mediaURL = m.URL
		}
		t.Media = append(t.Media, Media{Type: m.Type, URL: mediaURL, PreviewImageURL: m.MediaURLHTTPS})
	}
	return t, true
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-rapidapi-key", c.cfg.APIKey)
	req.Header.Set("x-rapidapi-host", c.cfg.Host)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
