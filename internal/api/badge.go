package api

import (
	"fmt"
	"net/http"

	"github.com/jordanhubbard/portway/internal/database"
)

// badgeColor maps a build status to the flat badge color scheme from
// scenario 4 in spec.md §8: grey/yellow/green/red.
func badgeColor(status database.BuildStatus) string {
	switch status {
	case database.BuildPending:
		return "#9f9f9f" // grey
	case database.BuildBuilding:
		return "#dfb317" // yellow
	case database.BuildSuccessful:
		return "#4c1" // green
	case database.BuildFailed:
		return "#e05d44" // red
	default:
		return "#9f9f9f"
	}
}

func badgeLabel(status database.BuildStatus) string {
	switch status {
	case database.BuildPending:
		return "Pending"
	case database.BuildBuilding:
		return "Building"
	case database.BuildSuccessful:
		return "Successful"
	case database.BuildFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// renderBadge draws a flat two-segment SVG badge, the shape
// generate_status_badge.rs produced with the badgen crate: a fixed
// "build" segment and a status segment colored per badgeColor.
func renderBadge(status database.BuildStatus) string {
	const charWidth = 7
	const padding = 10
	left := "build"
	right := badgeLabel(status)
	leftWidth := len(left)*charWidth + padding
	rightWidth := len(right)*charWidth + padding
	totalWidth := leftWidth + rightWidth
	color := badgeColor(status)

	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="20" role="img" aria-label="build: %s">
  <linearGradient id="s" x2="0" y2="100%%">
    <stop offset="0" stop-color="#bbb" stop-opacity=".1"/>
    <stop offset="1" stop-opacity=".1"/>
  </linearGradient>
  <clipPath id="r"><rect width="%d" height="20" rx="3" fill="#fff"/></clipPath>
  <g clip-path="url(#r)">
    <rect width="%d" height="20" fill="#555"/>
    <rect x="%d" width="%d" height="20" fill="%s"/>
    <rect width="%d" height="20" fill="url(#s)"/>
  </g>
  <g fill="#fff" text-anchor="middle" font-family="Verdana,Geneva,sans-serif" font-size="11">
    <text x="%d" y="14">%s</text>
    <text x="%d" y="14">%s</text>
  </g>
</svg>`,
		totalWidth, right,
		totalWidth,
		leftWidth,
		leftWidth, rightWidth, color,
		totalWidth,
		leftWidth/2, left,
		leftWidth+rightWidth/2, right,
	)
}

// handleBadge implements `GET /api/project/:o/:p/badge/status`:
// unauthenticated, returns an SVG colored by the latest build's status.
func (s *Server) handleBadge(w http.ResponseWriter, r *http.Request, owner, project string) {
	proj, err := s.registry.FindProject(owner, project)
	if err != nil {
		s.respondAPIErr(w, err)
		return
	}
	status := database.BuildPending
	if build, err := s.registry.LatestBuild(proj.ID); err == nil {
		status = build.Status
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(renderBadge(status)))
}
