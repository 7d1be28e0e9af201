// SPDX-License-Identifier: AGPL-3.0-only
package domain

import "sort"

// FlattenComments returns the comments embedded in posts, in post order.
func FlattenComments(posts []Post) []Comment {
	var out []Comment
	for _, p := range posts {
		out = append(out, p.Comments...)
	}
	return out
}

// CollectUsers derives the distinct authors of posts and comments. Users are
// ordered by total activity, then by id.
func CollectUsers(posts []Post, comments []Comment) []User {
	byID := make(map[string]*User)

	get := func(id, name string) *User {
		u, ok := byID[id]
		if !ok {
			u = &User{ID: id, Name: name}
			byID[id] = u
		}
		if u.Name == "" {
			u.Name = name
		}
		return u
	}

	for _, p := range posts {
		if p.AuthorID == "" {
			continue
		}
		get(p.AuthorID, p.AuthorName).PostCount++
	}
	for _, c := range comments {
		if c.AuthorID == "" {
			continue
		}
		get(c.AuthorID, c.AuthorName).CommentCount++
	}

	users := make([]User, 0, len(byID))
	for _, u := range byID {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		ai := users[i].PostCount + users[i].CommentCount
		aj := users[j].PostCount + users[j].CommentCount
		if ai != aj {
			return ai > aj
		}
		return users[i].ID < users[j].ID
	})
	return users
}
