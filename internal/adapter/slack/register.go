package slack

import "github.com/Strob0t/MailGuard/internal/port/notifier"

func init() {
	notifier.Register(providerName, func(settings map[string]string) (notifier.Notifier, error) {
		hook, err := notifier.WebhookURL(settings)
		if err != nil {
			return nil, err
		}
		return NewNotifier(hook), nil
	})
}
