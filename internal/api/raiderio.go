package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"guild-bridge/internal/config"
	"guild-bridge/internal/constants"
	"guild-bridge/internal/domain"

	"github.com/valyala/fasthttp"
)

const profilePath = "/api/v1/characters/profile"

var errInvalidIdentity = errors.New("identity is not name-realm")

type RaiderIOClient struct {
	baseURL string
	region  string
	fields  string
	timeout time.Duration
	client  *fasthttp.Client
}

func NewRaiderIOClient(cfg *config.Config) *RaiderIOClient {
	return newRaiderIOClient(cfg.RaiderIOURL, cfg.Region, cfg.FetchTimeout, nil)
}

func newRaiderIOClient(baseURL, region string, timeout time.Duration, dial fasthttp.DialFunc) *RaiderIOClient {
	if timeout <= 0 {
		timeout = constants.ExternalAPITimeout
	}
	return &RaiderIOClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		region:  region,
		fields:  constants.ProfileFields,
		timeout: timeout,
		client: &fasthttp.Client{
			Name:                "guild-bridge",
			MaxConnsPerHost:     4,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 1 * time.Minute,
			Dial:                dial,
		},
	}
}

// SlugifyRealm drops quote characters, turns spaces into hyphens and
// lowercases, e.g. "Quel'Thalas" -> "quelthalas".
func SlugifyRealm(realm string) string {
	realm = strings.NewReplacer("'", "", `"`, "", " ", "-").Replace(realm)
	return strings.ToLower(realm)
}

// Fetch looks up one character. It never returns an error: every failure is
// folded into the Outcome so one bad identity cannot break a batch.
func (c *RaiderIOClient) Fetch(ctx context.Context, id domain.Identity) Outcome {
	name, realm, ok := id.Split()
	if !ok {
		return Outcome{Kind: OutcomeBadRequest, Err: fmt.Errorf("%w: %q", errInvalidIdentity, id)}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + profilePath)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	args := req.URI().QueryArgs()
	args.Add("region", c.region)
	args.Add("realm", SlugifyRealm(realm))
	args.Add("name", name)
	args.Add("fields", c.fields)

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ctx.Err(); err != nil {
		return Outcome{Kind: OutcomeTransportError, Err: err}
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return Outcome{Kind: OutcomeTransportError, Err: err}
	}

	switch code := resp.StatusCode(); code {
	case fasthttp.StatusOK:
		profile, err := decodeProfile(resp.Body())
		if err != nil {
			return Outcome{Kind: OutcomeTransportError, StatusCode: code, Err: err}
		}
		return Outcome{Kind: OutcomeProfile, Profile: profile, StatusCode: code}
	case fasthttp.StatusBadRequest:
		return Outcome{Kind: OutcomeBadRequest, StatusCode: code}
	case fasthttp.StatusNotFound:
		return Outcome{Kind: OutcomeNotFound, StatusCode: code}
	default:
		return Outcome{Kind: OutcomeHTTPError, StatusCode: code}
	}
}

type profileResponse struct {
	Name              string `json:"name"`
	Race              string `json:"race"`
	Class             string `json:"class"`
	ActiveSpecName    string `json:"active_spec_name"`
	ActiveSpecRole    string `json:"active_spec_role"`
	AchievementPoints int    `json:"achievement_points"`
	ThumbnailURL      string `json:"thumbnail_url"`
	ProfileURL        string `json:"profile_url"`

	MythicPlusScoresBySeason []struct {
		Season string `json:"season"`
		Scores struct {
			All float64 `json:"all"`
		} `json:"scores"`
	} `json:"mythic_plus_scores_by_season"`

	MythicPlusBestRuns []struct {
		Dungeon     string `json:"dungeon"`
		ShortName   string `json:"short_name"`
		MythicLevel int    `json:"mythic_level"`
	} `json:"mythic_plus_best_runs"`
}

func decodeProfile(body []byte) (Profile, error) {
	var r profileResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Profile{}, fmt.Errorf("failed to decode profile: %w", err)
	}

	p := Profile{
		Class:             r.Class,
		Spec:              r.ActiveSpecName,
		Role:              r.ActiveSpecRole,
		Race:              r.Race,
		AchievementPoints: r.AchievementPoints,
		ProfileURL:        r.ProfileURL,
		ThumbnailURL:      r.ThumbnailURL,
	}
	if len(r.MythicPlusScoresBySeason) > 0 {
		p.Score = r.MythicPlusScoresBySeason[0].Scores.All
	}
	if len(r.MythicPlusBestRuns) > 0 {
		run := r.MythicPlusBestRuns[0]
		p.BestRun = fmt.Sprintf("+%d %s", run.MythicLevel, run.ShortName)
	}
	return p, nil
}
