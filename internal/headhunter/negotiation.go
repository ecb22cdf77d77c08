package headhunter

import (
	"context"
	"fmt"
)

const apiNegotiationPath = "/negotiations"

func (c *Client) postNegotiation(ctx context.Context, resume, vacancy, message string) error {
	if resume == "" || vacancy == "" {
		return fmt.Errorf("resume and vacancy ids are required")
	}

	apiURLMineNegotiations := fmt.Sprintf("%s%s", c.APIURL, apiNegotiationPath)

	data := map[string]string{
		"resume_id":  resume,
		"vacancy_id": vacancy,
		"message":    message,
	}

	if err := c.postFormData(ctx, apiURLMineNegotiations, data); err != nil {
		return fmt.Errorf("post negotiation for vacancy %s: %w", vacancy, err)
	}

	return nil
}
