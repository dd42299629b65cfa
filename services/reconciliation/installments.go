package reconciliation

import (
	"context"
	"strconv"

	"creator-booking/pkg/logger"
	"creator-booking/pkg/processor"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// invoicePaid counts a paid installment invoice against its schedule and
// cancels the subscription once the buyer has paid every installment.
// Subscriptions without MetaInstallmentMonths are not ours to cap.
func (p *Pipeline) invoicePaid(ctx context.Context, inv *processor.Invoice) (Outcome, error) {
	if inv == nil || inv.ID == "" || inv.SubscriptionID == "" {
		return OutcomeIgnored, nil
	}
	months, err := strconv.Atoi(inv.Metadata[processor.MetaInstallmentMonths])
	if err != nil || months <= 0 {
		return OutcomeIgnored, nil
	}

	log := logger.FromContext(ctx).With(
		zap.String("subscription_id", inv.SubscriptionID),
		zap.String("invoice_id", inv.ID),
	)

	var (
		schedule InstallmentSchedule
		recorded bool
		paid     int64
	)
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&InstallmentSchedule{
			SubscriptionID:   inv.SubscriptionID,
			BookingPaymentID: inv.Metadata[processor.MetaBookingPaymentID],
			Months:           months,
		}).Error; err != nil {
			return err
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&InstallmentInvoice{
			ID:             inv.ID,
			SubscriptionID: inv.SubscriptionID,
			AmountCents:    inv.AmountPaid,
			PaidAt:         p.now(),
		})
		if res.Error != nil {
			return res.Error
		}
		recorded = res.RowsAffected > 0

		if err := tx.Model(&InstallmentInvoice{}).Where("subscription_id = ?", inv.SubscriptionID).Count(&paid).Error; err != nil {
			return err
		}
		return tx.Where("subscription_id = ?", inv.SubscriptionID).Take(&schedule).Error
	})
	if err != nil {
		return OutcomeFailed, err
	}

	outcome := OutcomeReplay
	if recorded {
		outcome = OutcomeProcessed
	}

	if schedule.CanceledAt != nil {
		if recorded {
			log.Error("invoice paid after installment schedule was cancelled", zap.Int64("paid", paid), zap.Int("months", schedule.Months))
		}
		return outcome, nil
	}
	if paid < int64(schedule.Months) {
		log.Info("installment paid", zap.Int64("paid", paid), zap.Int("months", schedule.Months))
		return outcome, nil
	}

	if err := p.processor.CancelSubscription(ctx, inv.SubscriptionID); err != nil {
		return OutcomeFailed, err
	}
	if err := p.db.WithContext(ctx).Model(&InstallmentSchedule{}).
		Where("subscription_id = ? AND canceled_at IS NULL", inv.SubscriptionID).
		Update("canceled_at", p.now()).Error; err != nil {
		return OutcomeFailed, err
	}

	log.Info("installment schedule complete, subscription cancelled", zap.Int64("paid", paid))
	return OutcomeProcessed, nil
}
