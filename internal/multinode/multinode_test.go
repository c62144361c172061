package multinode

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/fullvlad/lava-server/internal/config"
	"github.com/fullvlad/lava-server/internal/reservation"
	"github.com/fullvlad/lava-server/internal/store"
	"github.com/fullvlad/lava-server/pkg/model"
)

func testSetup(t *testing.T) (*store.SQLStore, *Coordinator) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.OutputRoot = t.TempDir()
	engine := reservation.New(config.NewProvider(cfg), logger)
	return st, New(engine, 5*time.Minute, logger)
}

func device(hostname, deviceType string) *model.Device {
	return &model.Device{Hostname: hostname, DeviceType: deviceType, Heartbeat: true, IsPublic: true}
}

func member(id, deviceType string) *model.TestJob {
	return &model.TestJob{
		ID:                  id,
		Status:              model.JobSubmitted,
		Submitter:           "alice",
		RequestedDeviceType: deviceType,
		IsMultinode:         true,
		TargetGroup:         "grp",
		Definition:          `{"actions":[]}`,
		SubmitTime:          time.Now().UTC(),
	}
}

func seed(t *testing.T, st store.Store, devices []*model.Device, jobs []*model.TestJob) {
	t.Helper()
	ctx := context.Background()
	err := st.InTx(ctx, func(tx store.Tx) error {
		for _, d := range devices {
			if err := tx.CreateDevice(ctx, d); err != nil {
				return err
			}
		}
		for _, j := range jobs {
			if err := tx.CreateJob(ctx, j); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func inTx(t *testing.T, st store.Store, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	ctx := context.Background()
	if err := st.InTx(ctx, func(tx store.Tx) error { return fn(ctx, tx) }); err != nil {
		t.Fatal(err)
	}
}

func ids(jobs []*model.TestJob) []string {
	var out []string
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}

func TestProcessGroup_ClaimsAllMembers(t *testing.T) {
	st, c := testSetup(t)
	seed(t, st,
		[]*model.Device{device("panda01", "panda"), device("beagle01", "beagle")},
		[]*model.TestJob{member("1", "panda"), member("2", "beagle")})

	inTx(t, st, func(ctx context.Context, tx store.Tx) error {
		lead, err := tx.GetJob(ctx, "1")
		if err != nil {
			return err
		}
		claimed, err := c.ProcessGroup(ctx, tx, lead)
		if err != nil {
			return err
		}
		if len(claimed) != 2 {
			t.Fatalf("claimed %v, want both members", ids(claimed))
		}
		all, err := tx.ListJobs(ctx, store.JobFilter{TargetGroup: "grp"})
		if err != nil {
			return err
		}
		kept, err := c.DelayIncompleteGroups(ctx, tx, all, true)
		if err != nil {
			return err
		}
		if len(kept) != 2 {
			t.Errorf("complete group filtered: %v", ids(kept))
		}
		return nil
	})
}

func TestDelayIncompleteGroups_DefersPartialGroup(t *testing.T) {
	st, c := testSetup(t)
	single := &model.TestJob{ID: "solo", Status: model.JobSubmitted, RequestedDeviceType: "panda", SubmitTime: time.Now().UTC()}
	seed(t, st,
		[]*model.Device{device("panda01", "panda")},
		[]*model.TestJob{member("1", "panda"), member("2", "beagle"), single})

	inTx(t, st, func(ctx context.Context, tx store.Tx) error {
		lead, err := tx.GetJob(ctx, "1")
		if err != nil {
			return err
		}
		claimed, err := c.ProcessGroup(ctx, tx, lead)
		if err != nil {
			return err
		}
		if len(claimed) != 1 || claimed[0].ID != "1" {
			t.Fatalf("claimed %v, want [1]", ids(claimed))
		}
		solo, err := tx.GetJob(ctx, "solo")
		if err != nil {
			return err
		}
		kept, err := c.DelayIncompleteGroups(ctx, tx, []*model.TestJob{claimed[0], solo}, true)
		if err != nil {
			return err
		}
		if len(kept) != 1 || kept[0].ID != "solo" {
			t.Errorf("kept %v, want [solo]", ids(kept))
		}
		// A fresh reservation is not released.
		d, err := tx.GetDevice(ctx, "panda01")
		if err != nil {
			return err
		}
		if d.Status != model.DeviceReserved {
			t.Errorf("device status = %s, want RESERVED", d.Status)
		}
		return nil
	})
}

func reservePartialGroup(t *testing.T, st store.Store, c *Coordinator) {
	t.Helper()
	seed(t, st,
		[]*model.Device{device("panda01", "panda")},
		[]*model.TestJob{member("1", "panda"), member("2", "beagle")})
	inTx(t, st, func(ctx context.Context, tx store.Tx) error {
		lead, err := tx.GetJob(ctx, "1")
		if err != nil {
			return err
		}
		_, err = c.ProcessGroup(ctx, tx, lead)
		return err
	})
}

func TestDelayIncompleteGroups_ReleasesStaleReservation(t *testing.T) {
	st, c := testSetup(t)
	reservePartialGroup(t, st, c)
	c.SetClock(func() time.Time { return time.Now().UTC().Add(10 * time.Minute) })

	var tokenID string
	inTx(t, st, func(ctx context.Context, tx store.Tx) error {
		j, err := tx.GetJob(ctx, "1")
		if err != nil {
			return err
		}
		tokenID = j.SubmitTokenID
		kept, err := c.DelayIncompleteGroups(ctx, tx, []*model.TestJob{j}, true)
		if err != nil {
			return err
		}
		if len(kept) != 0 {
			t.Errorf("kept %v, want none", ids(kept))
		}
		return nil
	})

	inTx(t, st, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.GetDevice(ctx, "panda01")
		if err != nil {
			return err
		}
		if d.Status != model.DeviceIdle || d.CurrentJob != "" {
			t.Errorf("device = %+v, want IDLE and unbound", d)
		}
		last, err := tx.LatestTransition(ctx, "panda01")
		if err != nil {
			return err
		}
		if last.NewState != model.DeviceIdle || last.Message != "Job: 1, Release device from scheduling" {
			t.Errorf("latest transition = %+v", last)
		}
		j, err := tx.GetJob(ctx, "1")
		if err != nil {
			return err
		}
		if j.ActualDevice != "" || j.Status != model.JobSubmitted {
			t.Errorf("job = %+v, want submitted without device", j)
		}
		tok, err := tx.GetToken(ctx, tokenID)
		if err != nil {
			return err
		}
		if tok != nil {
			t.Error("submit token not deleted")
		}
		return nil
	})
}

func TestDelayIncompleteGroups_NonMasterNeverReleases(t *testing.T) {
	st, c := testSetup(t)
	reservePartialGroup(t, st, c)
	c.SetClock(func() time.Time { return time.Now().UTC().Add(time.Hour) })

	inTx(t, st, func(ctx context.Context, tx store.Tx) error {
		j, err := tx.GetJob(ctx, "1")
		if err != nil {
			return err
		}
		kept, err := c.DelayIncompleteGroups(ctx, tx, []*model.TestJob{j}, false)
		if err != nil {
			return err
		}
		if len(kept) != 0 {
			t.Errorf("kept %v, want none", ids(kept))
		}
		d, err := tx.GetDevice(ctx, "panda01")
		if err != nil {
			return err
		}
		if d.Status != model.DeviceReserved {
			t.Errorf("non-master released device: %+v", d)
		}
		return nil
	})
}
