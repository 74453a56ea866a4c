package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/escalation-service/internal/api/dto"
	"github.com/spec-kit/escalation-service/internal/domain"
	"github.com/spec-kit/escalation-service/internal/service"
)

// issueDetail renders a projection. Contact emails and the token are only
// shown to operators and verified link holders.
func issueDetail(p *service.IssueProjection, operator bool) dto.IssueDetailResponse {
	evs := make([]dto.EventResponse, 0, len(p.Events))
	for _, ev := range p.Events {
		evs = append(evs, dto.EventResponse{
			ID:        ev.ID,
			Type:      ev.Type,
			Level:     ev.Level,
			UserName:  ev.UserName,
			UserEmail: ev.UserEmail,
			Message:   ev.Message,
			CreatedAt: ev.CreatedAt,
		})
	}
	return dto.IssueDetailResponse{
		Issue:  issueResponse(p, operator),
		Events: evs,
		Capabilities: dto.CapabilitiesResponse{
			VerifiedLevel: p.VerifiedLevel,
			CanUpdate:     p.CanUpdate,
			CanAddReport:  p.CanAddReport,
		},
	}
}

func issueResponse(p *service.IssueProjection, operator bool) dto.IssueResponse {
	issue := p.Issue
	showContacts := operator || p.VerifiedLevel > 0
	contacts := make([]dto.ContactResponse, 0, issue.MaxLevel)
	for level := 1; level <= issue.MaxLevel; level++ {
		c := issue.Contact(level)
		if c == nil {
			continue
		}
		resp := dto.ContactResponse{Level: level, Name: c.Name, NotifiedAt: c.NotifiedAt}
		if showContacts {
			resp.Email = c.Email
		}
		if operator {
			resp.DeliveredAt = c.DeliveredAt
		}
		contacts = append(contacts, resp)
	}
	resp := dto.IssueResponse{
		ID:                 issue.ID,
		SiteID:             issue.SiteID,
		CheckID:            issue.CheckID,
		Status:             issue.Status,
		CurrentLevel:       issue.CurrentLevel,
		MaxLevel:           issue.MaxLevel,
		Contacts:           contacts,
		ResolvedByName:     issue.ResolvedByName,
		ResolvedByEmail:    issue.ResolvedByEmail,
		ResolvedAt:         issue.ResolvedAt,
		EscalationDeadline: p.EscalationDeadline,
		TimeRemainingSecs:  int64(p.TimeRemaining.Seconds()),
		CreatedAt:          issue.CreatedAt,
		UpdatedAt:          issue.UpdatedAt,
	}
	if operator {
		resp.Token = issue.Token
		resp.OrganizationID = issue.OrganizationID
		resp.CheckResultID = issue.CheckResultID
	}
	return resp
}

func operatorResponse(op *domain.Operator) dto.OperatorResponse {
	return dto.OperatorResponse{
		ID:             op.ID,
		OrganizationID: op.OrganizationID,
		Name:           op.Name,
		Email:          op.Email,
		Role:           op.Role,
		Active:         op.Active,
		CreatedAt:      op.CreatedAt,
	}
}

func parseStatuses(raw string) []domain.IssueStatus {
	var statuses []domain.IssueStatus
	for _, part := range strings.Split(raw, ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			statuses = append(statuses, domain.IssueStatus(part))
		}
	}
	return statuses
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func pagination(c *fiber.Ctx) (limit, offset int) {
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	if pageSize > 100 {
		pageSize = 100
	}
	return pageSize, (page - 1) * pageSize
}
