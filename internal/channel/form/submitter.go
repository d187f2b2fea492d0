package form

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/skuwata/outreachd/internal/outreach"
)

// Submit fills the detected form in a headless browser and submits it.
// A browser is used because inquiry forms routinely rely on JavaScript
// validation that a plain POST would trip over.
func (c *Channel) Submit(ctx context.Context, schema outreach.FormSchema, values map[string]string) (outreach.DeliveryResult, error) {
	if len(schema.Fields) == 0 {
		return outreach.DeliveryResult{}, outreach.E(outreach.KindNoForm, "submit form",
			fmt.Errorf("schema for %s has no fields", schema.FormURL))
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	runCtx, cancelRun := context.WithTimeout(tabCtx, c.cfg.SubmitTimeout)
	defer cancelRun()

	actions := []chromedp.Action{
		chromedp.Navigate(schema.FormURL),
		chromedp.WaitReady("form", chromedp.ByQuery),
	}

	var submitSel string
	for _, field := range schema.Fields {
		if !fillable(field) {
			continue
		}
		value := valueFor(field, values)
		if value == "" {
			continue
		}
		sel := fmt.Sprintf(`form [name=%q]`, field.Name)
		actions = append(actions, chromedp.SendKeys(sel, value, chromedp.ByQuery))
		if submitSel == "" {
			submitSel = sel
		}
	}
	if submitSel == "" {
		return outreach.DeliveryResult{}, outreach.E(outreach.KindValidation, "submit form",
			fmt.Errorf("no field on %s matched the prepared values", schema.FormURL))
	}

	actions = append(actions,
		chromedp.Submit(submitSel, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
	)

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return outreach.DeliveryResult{}, outreach.E(outreach.Classify(err), "submit form", err)
	}

	c.logger.Info("form submitted",
		zap.String("form_url", schema.FormURL),
		zap.String("action", schema.Action),
	)
	return outreach.DeliveryResult{
		Method:      outreach.MethodForm,
		Reference:   schema.Action,
		DeliveredAt: c.clock.Now(),
	}, nil
}
