// SPDX-License-Identifier: AGPL-3.0-only
package helpers

import (
	"fmt"
	"strings"

	"github.com/fluffyriot/fbtracker/internal/domain"
)

type SourceNetwork struct {
	Kind  domain.SourceKind
	Name  string
	Color string
}

var AvailableSources = []SourceNetwork{
	{Kind: domain.KindGroup, Name: "Facebook Group", Color: "#1877f2"},
	{Kind: domain.KindPage, Name: "Facebook Page", Color: "#42b72a"},
}

const facebookBase = "https://www.facebook.com/"

func ConvSourceToURL(kind domain.SourceKind, sourceID string) (string, error) {
	if sourceID == "" {
		return "", fmt.Errorf("source id is empty")
	}
	switch kind {
	case domain.KindGroup:
		return facebookBase + "groups/" + sourceID, nil
	case domain.KindPage:
		return facebookBase + sourceID, nil
	default:
		return "", fmt.Errorf("source kind %v not recognized", kind)
	}
}

// ConvPostToURL builds a permalink. Graph post ids have the form
// "<sourceId>_<postId>"; a bare id is used as is.
func ConvPostToURL(kind domain.SourceKind, sourceID, postID string) (string, error) {
	if postID == "" {
		return "", fmt.Errorf("post id is empty")
	}
	if owner, local, ok := strings.Cut(postID, "_"); ok {
		if sourceID == "" {
			sourceID = owner
		}
		postID = local
	}

	switch kind {
	case domain.KindGroup:
		return facebookBase + "groups/" + sourceID + "/posts/" + postID, nil
	case domain.KindPage:
		return facebookBase + sourceID + "/posts/" + postID, nil
	default:
		return "", fmt.Errorf("source kind %v not recognized", kind)
	}
}

func ConvUserToURL(userID string) string {
	if userID == "" {
		return ""
	}
	return facebookBase + userID
}
