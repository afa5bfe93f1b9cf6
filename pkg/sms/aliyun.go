package sms

import (
	"context"
	"encoding/json"
	"fmt"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	openapiutil "github.com/alibabacloud-go/openapi-util/service"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	credential "github.com/aliyun/credentials-go/credentials"
	"go.uber.org/zap"

	"CheckInGuard/pkg/logger"
)

type AliyunClient struct {
	client *openapi.Client
}

// NewAliyunClient 凭据从环境变量 ALIBABA_CLOUD_ACCESS_KEY_ID / ALIBABA_CLOUD_ACCESS_KEY_SECRET 读取
func NewAliyunClient() (*AliyunClient, error) {
	cred, err := credential.NewCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create aliyun credential: %w", err)
	}

	client, err := openapi.NewClient(&openapi.Config{
		Credential: cred,
		Endpoint:   tea.String("dysmsapi.aliyuncs.com"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aliyun client: %w", err)
	}
	return &AliyunClient{client: client}, nil
}

func (c *AliyunClient) apiInfo(action string) *openapi.Params {
	return &openapi.Params{
		Action:      tea.String(action),
		Version:     tea.String("2017-05-25"),
		Protocol:    tea.String("HTTPS"),
		Method:      tea.String("POST"),
		AuthType:    tea.String("AK"),
		Style:       tea.String("RPC"),
		Pathname:    tea.String("/"),
		ReqBodyType: tea.String("json"),
		BodyType:    tea.String("json"),
	}
}

// SendSingle 发送单条短信
func (c *AliyunClient) SendSingle(ctx context.Context, phone, signName, templateCode, templateParam string) error {
	if signName == "" {
		return fmt.Errorf("signName is required")
	}
	if templateCode == "" {
		return fmt.Errorf("templateCode is required")
	}

	request := &openapi.OpenApiRequest{
		Query: openapiutil.Query(map[string]interface{}{
			"PhoneNumbers":  tea.String(phone),
			"SignName":      tea.String(signName),
			"TemplateCode":  tea.String(templateCode),
			"TemplateParam": tea.String(templateParam),
		}),
	}

	resp, err := c.client.CallApi(c.apiInfo("SendSms"), request, &util.RuntimeOptions{})
	if err != nil {
		return fmt.Errorf("failed to send SMS: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return err
	}

	logger.Logger.Info("SMS sent successfully", zap.String("template", templateCode))
	return nil
}

// checkResponse 阿里云 HTTP 200 也可能带业务错误码
func checkResponse(resp map[string]interface{}) error {
	if code, ok := resp["statusCode"].(int); ok && code != 200 {
		return fmt.Errorf("SMS API error: statusCode=%d", code)
	}
	if resp["body"] == nil {
		return nil
	}

	bodyBytes, err := json.Marshal(resp["body"])
	if err != nil {
		return nil
	}
	var body struct {
		Code    string `json:"Code"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		return nil
	}
	if body.Code != "" && body.Code != "OK" {
		return fmt.Errorf("SMS send failed: %s - %s", body.Code, body.Message)
	}
	return nil
}
