package api

import (
	"context"

	"go.uber.org/zap"

	"github.com/secondme/secondme/pkg/llm"
	"github.com/secondme/secondme/pkg/llm/provider/openai"
	"github.com/secondme/secondme/pkg/store"
)

// chatFor resolves the chat client for one turn. When the
// default_chat_provider_id setting names an enabled provider row, replies
// route through an OpenAI-compatible client built from that row, with the
// model taken from default_chat_model. Anything missing or broken falls
// back to the process default client, so a bad settings write can never
// take the serving path down.
func (s *Server) chatFor(ctx context.Context) llm.ChatClient {
	providerID, err := s.store.GetSetting(ctx, store.SettingDefaultChatProviderID)
	if err != nil || providerID == "" {
		return s.chat
	}

	model, err := s.store.GetSetting(ctx, store.SettingDefaultChatModel)
	if err != nil || model == "" {
		s.logger.Warn("default chat provider is set without a model, using the default client",
			zap.String("provider_id", providerID),
		)
		return s.chat
	}

	p, err := s.store.GetProvider(ctx, providerID)
	if err != nil {
		s.logger.Warn("default chat provider not found, using the default client",
			zap.String("provider_id", providerID),
			zap.Error(err),
		)
		return s.chat
	}
	if !p.Enabled {
		s.logger.Warn("default chat provider is disabled, using the default client",
			zap.String("provider_id", providerID),
		)
		return s.chat
	}

	key := p.ID + "\x00" + p.BaseURL + "\x00" + p.APIKey + "\x00" + model

	s.routedMu.Lock()
	defer s.routedMu.Unlock()

	if s.routedChat != nil && s.routedKey == key {
		return s.routedChat
	}

	client, err := openai.NewClient(openai.Config{
		BaseURL: p.BaseURL,
		APIKey:  p.APIKey,
		Model:   model,
	})
	if err != nil {
		s.logger.Warn("building routed chat client failed, using the default client",
			zap.String("provider_id", providerID),
			zap.Error(err),
		)
		return s.chat
	}

	if s.routedChat != nil {
		s.routedChat.Close()
	}
	s.routedChat = client
	s.routedKey = key

	s.logger.Info("chat routed through provider",
		zap.String("provider_id", p.ID),
		zap.String("provider_name", p.Name),
		zap.String("model", model),
	)
	return client
}

func (s *Server) closeRoutedChat() {
	s.routedMu.Lock()
	defer s.routedMu.Unlock()
	if s.routedChat != nil {
		s.routedChat.Close()
		s.routedChat = nil
		s.routedKey = ""
	}
}
