package quota

// resourceKey builds the namespaced series key for a resource/user pair:
// the resource name alone, or resource_<user_id> when a user is scoped.
func resourceKey(resource, userID string) string {
	if userID == "" {
		return resource
	}
	return resource + "_" + userID
}
