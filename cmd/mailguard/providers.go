package main

// Provider blank imports. Each import activates a self-registering notifier.

import (
	_ "github.com/Strob0t/MailGuard/internal/adapter/discord"
	_ "github.com/Strob0t/MailGuard/internal/adapter/slack"
)
