package sms

import (
	"context"
	"encoding/json"
	"fmt"

	"CheckInGuard/config"
)

// SendEscalation 给监护人发送连续未打卡的升级告警
func SendEscalation(ctx context.Context, client Client, phone string, params map[string]string) error {
	cfg := config.Cfg
	if cfg.SMSEscalationTemplateCode == "" {
		return fmt.Errorf("SMS_ESCALATION_TEMPLATE_CODE is not configured")
	}

	paramJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal template param: %w", err)
	}
	return client.SendSingle(ctx, phone, cfg.SMSSignName, cfg.SMSEscalationTemplateCode, string(paramJSON))
}
