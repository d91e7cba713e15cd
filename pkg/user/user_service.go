package user

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"foodgram/domain"
	"foodgram/entities"
	"foodgram/internal/utils/mailing"
	"foodgram/pkg/jwt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type (
	// AuthorRecipes is the slice of the recipe repository the subscription
	// listing needs: each followed author's recipes and their full count.
	AuthorRecipes interface {
		GetRecipesByAuthor(ctx context.Context, authorID string, limit int) ([]*entities.Recipe, int64, error)
	}

	UserService interface {
		Register(ctx context.Context, req domain.RegisterRequest) (domain.UserResponse, error)
		Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error)
		Me(ctx context.Context, userID string) (domain.UserResponse, error)
		GetUser(ctx context.Context, id string, viewerID string) (domain.UserResponse, error)
		SetPassword(ctx context.Context, req domain.SetPasswordRequest, userID string) error

		Subscribe(ctx context.Context, userID, authorID string) (domain.UserWithRecipesResponse, error)
		Unsubscribe(ctx context.Context, userID, authorID string) error
		GetSubscriptions(ctx context.Context, userID string, recipesLimit, page, limit int) ([]domain.UserWithRecipesResponse, int64, error)
	}

	userService struct {
		userRepository UserRepository
		authorRecipes  AuthorRecipes
		jwtService     jwt.JWTService
	}
)

func NewUserService(userRepository UserRepository, authorRecipes AuthorRecipes, jwtService jwt.JWTService) UserService {
	return &userService{
		userRepository: userRepository,
		authorRecipes:  authorRecipes,
		jwtService:     jwtService,
	}
}

func responseFromEntity(user *entities.User) domain.UserResponse {
	return domain.UserResponse{
		ID:        user.ID.String(),
		Email:     user.Email,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}
}

func (s *userService) Register(ctx context.Context, req domain.RegisterRequest) (domain.UserResponse, error) {
	if strings.EqualFold(req.Username, "me") {
		return domain.UserResponse{}, domain.ErrReservedUsername
	}

	if _, err := s.userRepository.GetUserByEmail(ctx, req.Email); err == nil {
		return domain.UserResponse{}, domain.ErrEmailAlreadyUsed
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.UserResponse{}, err
	}
	if _, err := s.userRepository.GetUserByUsername(ctx, req.Username); err == nil {
		return domain.UserResponse{}, domain.ErrUsernameAlreadyUsed
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.UserResponse{}, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.UserResponse{}, err
	}

	user := &entities.User{
		ID:        uuid.New(),
		Email:     req.Email,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  string(hashed),
		Role:      domain.RoleUser,
	}
	if err := s.userRepository.CreateUser(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.UserResponse{}, domain.ErrEmailAlreadyUsed
		}
		return domain.UserResponse{}, err
	}

	// Best effort, registration must not fail on SMTP trouble.
	go func() {
		body := fmt.Sprintf("<p>Hi %s, welcome to Foodgram. Start sharing your recipes!</p>", user.FirstName)
		if err := mailing.SendMail(user.Email, "Welcome to Foodgram", body); err != nil {
			log.Printf("failed to send welcome mail to %s: %v", user.Email, err)
		}
	}()

	return responseFromEntity(user), nil
}

func (s *userService) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	user, err := s.userRepository.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.LoginResponse{}, domain.ErrCredentialsInvalid
		}
		return domain.LoginResponse{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return domain.LoginResponse{}, domain.ErrCredentialsInvalid
	}

	token := s.jwtService.GenerateTokenUser(user.ID.String(), user.Role)
	return domain.LoginResponse{
		Token: token,
		User:  responseFromEntity(user),
	}, nil
}

func (s *userService) Me(ctx context.Context, userID string) (domain.UserResponse, error) {
	user, err := s.userRepository.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UserResponse{}, domain.ErrUserNotFound
		}
		return domain.UserResponse{}, err
	}
	return responseFromEntity(user), nil
}

func (s *userService) GetUser(ctx context.Context, id string, viewerID string) (domain.UserResponse, error) {
	user, err := s.userRepository.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UserResponse{}, domain.ErrUserNotFound
		}
		return domain.UserResponse{}, err
	}

	res := responseFromEntity(user)
	if viewerID != "" && viewerID != id {
		isSubscribed, err := s.userRepository.IsSubscribed(ctx, viewerID, id)
		if err != nil {
			return domain.UserResponse{}, err
		}
		res.IsSubscribed = isSubscribed
	}
	return res, nil
}

func (s *userService) SetPassword(ctx context.Context, req domain.SetPasswordRequest, userID string) error {
	user, err := s.userRepository.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrUserNotFound
		}
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.CurrentPassword)); err != nil {
		return domain.ErrPasswordMismatch
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.userRepository.UpdatePassword(ctx, userID, string(hashed))
}

func (s *userService) withRecipes(ctx context.Context, author *entities.User, recipesLimit int) (domain.UserWithRecipesResponse, error) {
	recipes, count, err := s.authorRecipes.GetRecipesByAuthor(ctx, author.ID.String(), recipesLimit)
	if err != nil {
		return domain.UserWithRecipesResponse{}, err
	}

	res := domain.UserWithRecipesResponse{
		UserResponse: responseFromEntity(author),
		Recipes:      make([]domain.ShortRecipeResponse, 0, len(recipes)),
		RecipesCount: count,
	}
	res.IsSubscribed = true
	for _, recipe := range recipes {
		res.Recipes = append(res.Recipes, domain.ShortRecipeResponse{
			ID:          recipe.ID.String(),
			Name:        recipe.Name,
			Image:       recipe.ImageURL,
			CookingTime: recipe.CookingTime,
		})
	}
	return res, nil
}

func (s *userService) Subscribe(ctx context.Context, userID, authorID string) (domain.UserWithRecipesResponse, error) {
	if userID == authorID {
		return domain.UserWithRecipesResponse{}, domain.ErrSelfSubscription
	}

	author, err := s.userRepository.GetUserByID(ctx, authorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UserWithRecipesResponse{}, domain.ErrUserNotFound
		}
		return domain.UserWithRecipesResponse{}, err
	}

	exists, err := s.userRepository.IsSubscribed(ctx, userID, authorID)
	if err != nil {
		return domain.UserWithRecipesResponse{}, err
	}
	if exists {
		return domain.UserWithRecipesResponse{}, domain.ErrAlreadySubscribed
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return domain.UserWithRecipesResponse{}, domain.ErrParseUUID
	}
	if err := s.userRepository.Subscribe(ctx, userUUID, author.ID); err != nil {
		// The unique index settles concurrent subscribe races.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.UserWithRecipesResponse{}, domain.ErrAlreadySubscribed
		}
		return domain.UserWithRecipesResponse{}, err
	}

	return s.withRecipes(ctx, author, 0)
}

func (s *userService) Unsubscribe(ctx context.Context, userID, authorID string) error {
	if _, err := s.userRepository.GetUserByID(ctx, authorID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrUserNotFound
		}
		return err
	}

	affected, err := s.userRepository.Unsubscribe(ctx, userID, authorID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotSubscribed
	}
	return nil
}

func (s *userService) GetSubscriptions(ctx context.Context, userID string, recipesLimit, page, limit int) ([]domain.UserWithRecipesResponse, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	authors, count, err := s.userRepository.GetSubscribedAuthors(ctx, userID, page, limit)
	if err != nil {
		return nil, 0, err
	}

	result := make([]domain.UserWithRecipesResponse, 0, len(authors))
	for _, author := range authors {
		res, err := s.withRecipes(ctx, author, recipesLimit)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, res)
	}
	return result, count, nil
}
