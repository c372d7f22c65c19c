package telegram

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"immotech/server/internal/models"
)

type MockBot struct {
	mock.Mock
}

func (m *MockBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return tgbotapi.Message{}, args.Error(0)
}

func TestDisabledServiceIsNoop(t *testing.T) {
	s, err := NewService(Config{Enabled: true}, logrus.New())
	require.NoError(t, err)
	assert.False(t, s.Enabled())
	assert.NoError(t, s.SendMessage(context.Background(), "hello"))
}

func TestNotifyContractGenerated(t *testing.T) {
	bot := &MockBot{}
	s := &Service{logger: logrus.New(), bot: bot, chatID: 42, enabled: true}

	path := "contract_abc.pdf"
	tx := &models.Transaction{ID: "abc", Type: models.TypeSale, Amount: 1234.5, ContractPath: &path}
	prop := &models.Property{Title: "Flat <3 rooms>"}

	bot.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 42 && msg.ParseMode == tgbotapi.ModeHTML
	})).Return(nil).Once()

	require.NoError(t, s.NotifyContractGenerated(context.Background(), tx, prop))
	bot.AssertExpectations(t)

	bot.On("Send", mock.Anything).Return(errors.New("blocked")).Once()
	assert.Error(t, s.NotifyNewProperty(context.Background(), prop))
}

func TestFormatMessages(t *testing.T) {
	path := "contract_abc.pdf"
	msg := FormatContractGenerated(&models.Transaction{ID: "abc", Type: "rental", Amount: 900, ContractPath: &path}, nil)
	assert.Contains(t, msg, "Unknown property")
	assert.Contains(t, msg, "€900.00")
	assert.Contains(t, msg, "contract_abc.pdf")

	listing := FormatNewProperty(&models.Property{
		Title:    "Villa <Sud>",
		Price:    300000,
		Surface:  150,
		Rooms:    5,
		Location: models.Location{City: "Nice", PostalCode: "06000"},
	})
	assert.Contains(t, listing, "Villa &lt;Sud&gt;")
	assert.Contains(t, listing, "€2000/m²")
	assert.Contains(t, listing, "Rooms: 5")

	noSurface := FormatNewProperty(&models.Property{Title: "Plot"})
	assert.Contains(t, noSurface, "N/A")
}
