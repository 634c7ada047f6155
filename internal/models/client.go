package models

import (
	"math"
	"time"
)

type Client struct {
	ID                int64             `json:"id"`
	Name              string            `json:"name"`
	Email             string            `json:"email"`
	Phone             string            `json:"phone"`
	Nationality       string            `json:"nationality"`
	SailingExperience string            `json:"sailing_experience"`
	Address           string            `json:"address"`
	Certifications    string            `json:"certifications"`
	Notes             string            `json:"notes"`
	Rating            int               `json:"rating"`
	Cancellations     int               `json:"cancellations"`
	Active            bool              `json:"active"`
	Attributes        map[string]string `json:"attributes,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (c *Client) Kind() EntityKind { return KindClient }
func (c *Client) RecordID() int64  { return c.ID }

// Rank is derived from rating and cancellations and never persisted.
func (c *Client) Rank() Rank {
	return ClientRank(c.Rating, c.Cancellations)
}

type Rank string

const (
	RankGold     Rank = "Gold"
	RankSilver   Rank = "Silver"
	RankBronze   Rank = "Bronze"
	RankStandard Rank = "Standard"
)

func rankFor(score float64) Rank {
	switch {
	case score >= 8.5:
		return RankGold
	case score >= 7:
		return RankSilver
	case score >= 5:
		return RankBronze
	default:
		return RankStandard
	}
}

// ClientRank penalises each cancellation by half a point, never dropping below 1.
func ClientRank(rating, cancellations int) Rank {
	adjusted := math.Max(1, float64(rating)-float64(cancellations)*0.5)
	return rankFor(adjusted)
}

// EmployeeRank weights the admin rating, completed jobs (capped at 50) and the
// 5-point review average rescaled to 10.
func EmployeeRank(adminRating float64, completedJobs int, reviewScore float64) Rank {
	jobs := math.Min(float64(completedJobs), 50) / 50 * 10
	composite := adminRating*0.4 + jobs*0.2 + reviewScore*2*0.4
	return rankFor(composite)
}

type Employee struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	AdminRating   float64   `json:"admin_rating"`
	CompletedJobs int       `json:"completed_jobs"`
	ReviewScore   float64   `json:"review_score"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (e *Employee) Rank() Rank {
	return EmployeeRank(e.AdminRating, e.CompletedJobs, e.ReviewScore)
}
