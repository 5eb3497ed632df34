package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/prdforge/pkg/credits"
)

type refundReconciler interface {
	RunOnce(ctx context.Context) (credits.Report, error)
}

type invitationCleaner interface {
	CleanupExpiredInvitations(ctx context.Context) (int64, error)
}

// jobs holds the scheduled work of the reconciler binary
type jobs struct {
	reconciler  refundReconciler
	invitations invitationCleaner
	log         *logrus.Logger
	timeout     time.Duration
}

func (j *jobs) reconcile(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	start := time.Now()
	report, err := j.reconciler.RunOnce(ctx)
	if err != nil {
		j.log.WithError(err).Error("Reconciliation pass failed")
		return err
	}

	entry := j.log.WithFields(logrus.Fields{
		"resolved": report.Resolved,
		"retrying": report.Retrying,
		"manual":   report.Manual,
		"errors":   report.Errors,
		"duration": time.Since(start).String(),
	})
	if report.Manual > 0 || report.Errors > 0 {
		entry.Warn("Reconciliation pass needs operator attention")
	} else {
		entry.Debug("Reconciliation pass complete")
	}
	return nil
}

func (j *jobs) cleanupInvitations(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	n, err := j.invitations.CleanupExpiredInvitations(ctx)
	if err != nil {
		j.log.WithError(err).Error("Invitation cleanup failed")
		return err
	}
	j.log.WithField("deleted", n).Info("Expired invitations removed")
	return nil
}

// runAll runs every job once, returning the first failure
func (j *jobs) runAll(ctx context.Context) error {
	reconcileErr := j.reconcile(ctx)
	cleanupErr := j.cleanupInvitations(ctx)
	if reconcileErr != nil {
		return reconcileErr
	}
	return cleanupErr
}
