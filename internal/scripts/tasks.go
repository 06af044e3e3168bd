package scripts

import (
	"context"
	"fmt"
	"time"

	"github.com/wesleyorama2/surge/internal/http"
	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/config"
)

const taskGroup = "::Task CRUD Operations"

func init() {
	register(&Script{
		Name:        "tasks",
		Description: "Lists, creates, updates and deletes tasks under a ramping VU load",
		Scenarios: map[string]*config.ScenarioConfig{
			"tasks_crud": {
				Executor: "ramping-vus",
				StartVUs: 1,
				Stages: []config.StageConfig{
					{Duration: config.Duration(10 * time.Second), Target: 5},
					{Duration: config.Duration(30 * time.Second), Target: 10},
					{Duration: config.Duration(10 * time.Second), Target: 0},
				},
			},
		},
		Thresholds: limits(map[string][]string{
			"http_req_duration":              {"p(95)<500"},
			"http_req_duration{name:create}": {"p(95)<600"},
			"http_req_duration{name:list}":   {"p(95)<400"},
			"http_req_duration{name:update}": {"p(95)<600"},
			"http_req_duration{name:delete}": {"p(95)<500"},
		}),
		NeedsUsers: true,
		Exec:       tasksIteration,
	})
}

var (
	tasksListed = performance.NewCheck("list tasks status is 200", func(r *http.Result) bool {
		return r.StatusCode == 200
	})
	tasksIsArray = performance.NewCheck("tasks array exists", func(r *http.Result) bool {
		return r.JSON("data").IsArray()
	})
	taskCreated = performance.NewCheck("create task status is 201", func(r *http.Result) bool {
		return r.StatusCode == 201
	})
	taskHasID = performance.NewCheck("created task has id", func(r *http.Result) bool {
		return r.JSON("data.id").Exists()
	})
	taskUpdated = performance.NewCheck("update task status is 200", func(r *http.Result) bool {
		return r.StatusCode == 200
	})
	taskStatusChanged = performance.NewCheck("task status updated", func(r *http.Result) bool {
		return r.JSON("data.status").String() == "in-progress"
	})
	taskDeleted = performance.NewCheck("delete task status is 200", func(r *http.Result) bool {
		return r.StatusCode == 200
	})
)

func tasksIteration(ctx context.Context, vu *performance.VUContext) error {
	sess, err := loginRandomUser(ctx, vu, "")
	if err != nil {
		return err
	}

	list := vu.Do(ctx, http.Get("/tasks").WithBearer(sess.token).WithName("list").WithTag("group", taskGroup))
	vu.Check(list, tasksListed, tasksIsArray)

	body := newTask(
		fmt.Sprintf("Performance Test Task %d", time.Now().UnixMilli()),
		"This task was created during performance testing",
	)
	created := vu.Do(ctx, http.Post("/tasks", body).
		WithBearer(sess.token).
		WithName("create").
		WithTag("group", taskGroup).
		Expect(201))
	vu.Check(created, taskCreated, taskHasID)

	if created.StatusCode == 201 {
		id := created.JSON("data.id").String()

		if !think(ctx, vu, time.Second, 2*time.Second) {
			return ctx.Err()
		}

		update := map[string]string{"status": "in-progress", "priority": "high"}
		updated := vu.Do(ctx, http.Put("/tasks/"+id, update).
			WithBearer(sess.token).
			WithName("update").
			WithTag("group", taskGroup))
		vu.Check(updated, taskUpdated, taskStatusChanged)

		if !think(ctx, vu, time.Second, 2*time.Second) {
			return ctx.Err()
		}

		deleted := vu.Do(ctx, http.Delete("/tasks/"+id).
			WithBearer(sess.token).
			WithName("delete").
			WithTag("group", taskGroup))
		vu.Check(deleted, taskDeleted)
	}

	think(ctx, vu, time.Second, 3*time.Second)
	return nil
}
