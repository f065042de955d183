package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/arbor-backend/internal/app"
	types "github.com/yungbote/arbor-backend/internal/domain"
	"github.com/yungbote/arbor-backend/internal/platform/dbctx"
)

type idList []string

func (l *idList) String() string { return strings.Join(*l, ",") }
func (l *idList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v != "" {
		*l = append(*l, v)
	}
	return nil
}

const scanBatch = 500

// Offline integrity scan over the node store. Reports topics whose
// structure violates the single-root/acyclicity rules, dangling parent
// pointers, stale active pointers, and singleton sibling groups. Read
// only; repair stays a human decision.
func main() {
	var topics idList
	var limit int
	flag.Var(&topics, "topic", "topic_id to check (repeatable; default all)")
	flag.IntVar(&limit, "limit", 0, "limit number of topics scanned")
	flag.Parse()

	application, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}

	var rows []*types.Topic
	if len(topics) > 0 {
		for _, s := range topics {
			id, perr := uuid.Parse(strings.TrimSpace(s))
			if perr != nil || id == uuid.Nil {
				continue
			}
			row, gerr := application.Repos.Topic.GetByID(dbc, id)
			if gerr != nil {
				fmt.Printf("load topic %s: %v\n", id.String(), gerr)
				continue
			}
			rows = append(rows, row)
		}
		if len(rows) == 0 {
			fmt.Println("no valid topic_id values provided")
			return
		}
	} else {
		offset := 0
		for {
			page, lerr := application.Repos.Topic.List(dbc, scanBatch, offset)
			if lerr != nil {
				fmt.Printf("list topics: %v\n", lerr)
				os.Exit(1)
			}
			rows = append(rows, page...)
			if len(page) < scanBatch {
				break
			}
			offset += scanBatch
		}
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	violations := 0
	for _, topic := range rows {
		if topic == nil || topic.ID == uuid.Nil {
			continue
		}
		violations += checkTopic(dbc, application, topic)
	}

	fmt.Printf("done; topics=%d violations=%d\n", len(rows), violations)
	if violations > 0 {
		os.Exit(1)
	}
}

func checkTopic(dbc dbctx.Context, application *app.App, topic *types.Topic) int {
	var nodes []*types.ChatNode
	offset := 0
	for {
		page, err := application.Repos.Node.ListByTopic(dbc, topic.ID, scanBatch, offset)
		if err != nil {
			fmt.Printf("[%s] load nodes: %v\n", topic.ID.String(), err)
			return 1
		}
		nodes = append(nodes, page...)
		if len(page) < scanBatch {
			break
		}
		offset += scanBatch
	}

	found := 0
	report := func(format string, args ...any) {
		fmt.Printf("[%s] %s\n", topic.ID.String(), fmt.Sprintf(format, args...))
		found++
	}

	byID := make(map[uuid.UUID]*types.ChatNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	roots := 0
	for _, n := range nodes {
		if n.ParentID == nil {
			roots++
			continue
		}
		if _, ok := byID[*n.ParentID]; !ok {
			report("node %s has dangling parent %s", n.ID.String(), n.ParentID.String())
		}
	}
	if len(nodes) > 0 && roots != 1 {
		report("expected 1 root, found %d", roots)
	}

	// Parent-chain walk with tri-state marks; a node reached twice on the
	// same chase is a cycle.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[uuid.UUID]int, len(nodes))
	for _, n := range nodes {
		if color[n.ID] != white {
			continue
		}
		path := []uuid.UUID{}
		cur := n
		for cur != nil && color[cur.ID] == white {
			color[cur.ID] = gray
			path = append(path, cur.ID)
			if cur.ParentID == nil {
				break
			}
			cur = byID[*cur.ParentID]
		}
		if cur != nil && color[cur.ID] == gray && cur.ParentID != nil {
			report("cycle through node %s", cur.ID.String())
		}
		for _, id := range path {
			color[id] = black
		}
	}

	if topic.ActiveNodeID != nil {
		if _, ok := byID[*topic.ActiveNodeID]; !ok {
			report("active pointer %s is not a live node", topic.ActiveNodeID.String())
		}
	}

	type groupKey struct {
		parent uuid.UUID
		group  int
	}
	groupSizes := make(map[groupKey]int)
	for _, n := range nodes {
		if n.SiblingsGroupID == 0 || n.ParentID == nil {
			continue
		}
		groupSizes[groupKey{parent: *n.ParentID, group: n.SiblingsGroupID}]++
	}
	for k, size := range groupSizes {
		if size < 2 {
			report("sibling group %d under parent %s has a single member", k.group, k.parent.String())
		}
	}

	return found
}
